// Package classset loads the class descriptors the driver compiles.
// Descriptors are produced by an external front end as msgpack files:
// ".aotm" holds one class, ".aotset" holds a bundle. How the front end
// resolved and verified the classes is out of scope here.
package classset

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"aotc/internal/log"
	"aotc/internal/unit"
)

// File extensions understood by the providers.
const (
	ClassExt  = ".aotm"
	BundleExt = ".aotset"
)

type methodFile struct {
	Name       string `msgpack:"name"`
	Descriptor string `msgpack:"descriptor"`
	Flags      uint8  `msgpack:"flags"`
	Body       []byte `msgpack:"body"`
}

type classFile struct {
	Name    string       `msgpack:"name"`
	Super   string       `msgpack:"super"`
	Methods []methodFile `msgpack:"methods"`
}

func (cf *classFile) class() unit.Class {
	c := unit.Class{Name: cf.Name, Super: cf.Super, Methods: make([]unit.Method, 0, len(cf.Methods))}
	for _, m := range cf.Methods {
		c.Methods = append(c.Methods, unit.Method{
			Owner:      cf.Name,
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Flags:      unit.Flags(m.Flags),
			Body:       m.Body,
		})
	}
	return c
}

func fileFromClass(c *unit.Class) classFile {
	cf := classFile{Name: c.Name, Super: c.Super, Methods: make([]methodFile, 0, len(c.Methods))}
	for _, m := range c.Methods {
		cf.Methods = append(cf.Methods, methodFile{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			Flags:      uint8(m.Flags),
			Body:       m.Body,
		})
	}
	return cf
}

// Marshal encodes one class descriptor in .aotm form.
func Marshal(c *unit.Class) ([]byte, error) {
	return msgpack.Marshal(fileFromClass(c))
}

// MarshalBundle encodes a class bundle in .aotset form.
func MarshalBundle(classes []unit.Class) ([]byte, error) {
	files := make([]classFile, 0, len(classes))
	for i := range classes {
		files = append(files, fileFromClass(&classes[i]))
	}
	return msgpack.Marshal(files)
}

func readClassFile(path string) (unit.Class, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- provider paths come from the command line
	if err != nil {
		return unit.Class{}, fmt.Errorf("failed to read class descriptor %s: %w", path, err)
	}
	var cf classFile
	if err := msgpack.Unmarshal(data, &cf); err != nil {
		return unit.Class{}, fmt.Errorf("failed to decode class descriptor %s: %w", path, err)
	}
	if cf.Name == "" {
		return unit.Class{}, fmt.Errorf("class descriptor %s has no class name", path)
	}
	return cf.class(), nil
}

func readBundleFile(path string) ([]unit.Class, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- provider paths come from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read class set %s: %w", path, err)
	}
	var files []classFile
	if err := msgpack.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("failed to decode class set %s: %w", path, err)
	}
	classes := make([]unit.Class, 0, len(files))
	for i := range files {
		if files[i].Name == "" {
			return nil, fmt.Errorf("class set %s: entry %d has no class name", path, i)
		}
		classes = append(classes, files[i].class())
	}
	return classes, nil
}

// Provider yields class descriptors from one source.
type Provider interface {
	// Describe names the source for diagnostics.
	Describe() string
	// Load returns the source's classes. Search failures are fatal for
	// the run; the selection-error policy gates member enumeration only.
	Load(logger *log.Logger) ([]unit.Class, error)
}

// Search runs every provider and merges the results. Duplicate class names
// across providers resolve last-wins with a warning, matching the order the
// sources were given on the command line.
type Search struct {
	providers []Provider
}

// Add appends a provider. Providers run in the order added.
func (s *Search) Add(p Provider) { s.providers = append(s.providers, p) }

// Empty reports whether no sources were configured.
func (s *Search) Empty() bool { return len(s.providers) == 0 }

// Run loads all sources and reports "N classes found" at info level.
func (s *Search) Run(logger *log.Logger) ([]unit.Class, error) {
	var classes []unit.Class
	seen := make(map[string]int)
	for _, p := range s.providers {
		found, err := p.Load(logger)
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			if prev, dup := seen[c.Name]; dup {
				logger.Warningf("duplicate class %s from %s replaces an earlier definition", c.Name, p.Describe())
				classes[prev] = c
				continue
			}
			seen[c.Name] = len(classes)
			classes = append(classes, c)
		}
	}
	logger.Infof("%d classes found", len(classes))
	return classes, nil
}
