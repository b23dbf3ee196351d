// Package config loads the optional aotc.toml project file. The file
// supplies defaults; anything set explicitly on the command line wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the project file looked up by Find.
const FileName = "aotc.toml"

// File is the decoded aotc.toml.
type File struct {
	Output struct {
		Name string `toml:"name"`
	} `toml:"output"`
	Compile struct {
		Threads      int    `toml:"threads"`
		IgnoreErrors bool   `toml:"ignore-errors"`
		ExitOnError  bool   `toml:"exit-on-error"`
		Directives   string `toml:"directives"`
	} `toml:"compile"`
	Backend struct {
		Command    string `toml:"command"`
		Tiered     bool   `toml:"tiered"`
		Assertions bool   `toml:"assertions"`
	} `toml:"backend"`
	Linker struct {
		Path string `toml:"path"`
	} `toml:"linker"`

	meta toml.MetaData
}

// Find walks up from startDir to locate aotc.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes the file at path. Unknown keys are an error: a typo in a
// config file should not pass silently.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}
	f.meta = meta
	return &f, nil
}

// IsSet reports whether a key path was present in the file.
func (f *File) IsSet(keys ...string) bool {
	return f.meta.IsDefined(keys...)
}

// Values are the settings the file can default. They mirror the compile
// command's flags; MergeInto leaves a value alone when its flag was given.
type Values struct {
	OutputName     string
	Threads        int
	IgnoreErrors   bool
	ExitOnError    bool
	Directives     string
	BackendCommand string
	Tiered         bool
	Assertions     bool
	LinkerPath     string
}

// MergeInto overlays file values onto v for every setting whose flag was
// not changed on the command line. changed takes the flag name.
func (f *File) MergeInto(v *Values, changed func(flag string) bool) {
	merge := func(flag string, keys []string, apply func()) {
		if changed(flag) || !f.meta.IsDefined(keys...) {
			return
		}
		apply()
	}
	merge("output", []string{"output", "name"}, func() { v.OutputName = f.Output.Name })
	merge("compile-threads", []string{"compile", "threads"}, func() { v.Threads = f.Compile.Threads })
	merge("ignore-errors", []string{"compile", "ignore-errors"}, func() { v.IgnoreErrors = f.Compile.IgnoreErrors })
	merge("exit-on-error", []string{"compile", "exit-on-error"}, func() { v.ExitOnError = f.Compile.ExitOnError })
	merge("compile-commands", []string{"compile", "directives"}, func() { v.Directives = f.Compile.Directives })
	merge("compiler", []string{"backend", "command"}, func() { v.BackendCommand = f.Backend.Command })
	merge("compile-for-tiered", []string{"backend", "tiered"}, func() { v.Tiered = f.Backend.Tiered })
	merge("compile-with-assertions", []string{"backend", "assertions"}, func() { v.Assertions = f.Backend.Assertions })
	merge("linker-path", []string{"linker", "path"}, func() { v.LinkerPath = f.Linker.Path })
}
