package classset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"aotc/internal/log"
	"aotc/internal/unit"
)

// NameProvider resolves a dotted class name ("a.b.C") to "a/b/C.aotm"
// against an ordered search path. The first hit wins; no hit is fatal.
type NameProvider struct {
	ClassName  string
	SearchPath []string // directories, in priority order; empty means "."
}

func (p *NameProvider) Describe() string { return "--class-name " + p.ClassName }

func (p *NameProvider) Load(logger *log.Logger) ([]unit.Class, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(p.ClassName, ".", "/")) + ClassExt
	dirs := p.SearchPath
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, rel)
		if _, err := os.Stat(candidate); err == nil {
			logger.Debugf("resolved %s -> %s", p.ClassName, candidate)
			c, err := readClassFile(candidate)
			if err != nil {
				return nil, err
			}
			return []unit.Class{c}, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
	}
	return nil, fmt.Errorf("class not found: %s (searched %s)", p.ClassName, strings.Join(dirs, string(os.PathListSeparator)))
}

// DirProvider loads every .aotm under a directory, sorted by path for a
// deterministic class order.
type DirProvider struct {
	Dir string
}

func (p *DirProvider) Describe() string { return "--directory " + p.Dir }

func (p *DirProvider) Load(logger *log.Logger) ([]unit.Class, error) {
	var paths []string
	err := filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ClassExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory %s: %w", p.Dir, err)
	}
	sort.Strings(paths)

	classes := make([]unit.Class, 0, len(paths))
	for _, path := range paths {
		c, err := readClassFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debugf("loaded %s from %s", c.Name, path)
		classes = append(classes, c)
	}
	return classes, nil
}

// SetProvider loads a .aotset bundle.
type SetProvider struct {
	Path string
}

func (p *SetProvider) Describe() string { return "--class-set " + p.Path }

func (p *SetProvider) Load(logger *log.Logger) ([]unit.Class, error) {
	classes, err := readBundleFile(p.Path)
	if err != nil {
		return nil, err
	}
	logger.Debugf("loaded %d classes from %s", len(classes), p.Path)
	return classes, nil
}
