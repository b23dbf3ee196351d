// Package link turns the emitted object file into a shared library by
// invoking the native linker. Platform differences (default names, suffix
// rules, command syntax, linker discovery) live in the Platform variants;
// nothing outside this package branches on the operating system.
package link

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"aotc/internal/log"
)

// Platform is the closed set of link targets.
type Platform int

const (
	Linux Platform = iota
	SunOS
	Darwin
	Windows
)

var platformNames = map[Platform]string{
	Linux:   "Linux",
	SunOS:   "SunOS",
	Darwin:  "Darwin",
	Windows: "Windows",
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Platform(%d)", int(p))
}

// HostPlatform maps a GOOS value onto a link target.
func HostPlatform(goos string) (Platform, error) {
	switch goos {
	case "linux":
		return Linux, nil
	case "solaris", "illumos":
		return SunOS, nil
	case "darwin":
		return Darwin, nil
	case "windows":
		return Windows, nil
	default:
		return 0, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// LibraryExt returns the shared-library suffix including the dot.
func (p Platform) LibraryExt() string {
	switch p {
	case Darwin:
		return ".dylib"
	case Windows:
		return ".dll"
	default:
		return ".so"
	}
}

// DefaultLibraryName is used when no output name was given.
func (p Platform) DefaultLibraryName() string {
	return "unnamed" + p.LibraryExt()
}

// ObjectFileName derives the intermediate object file name from the library
// name. The suffix table is deliberately literal, special cases included
// (SunOS appends ".o" unconditionally, Linux appends nothing); it matches
// what every deployed toolchain expects, so it is preserved rather than
// generalized.
func (p Platform) ObjectFileName(library string) string {
	switch p {
	case Linux:
		return strings.TrimSuffix(library, ".so")
	case SunOS:
		return strings.TrimSuffix(library, ".so") + ".o"
	case Darwin:
		return strings.TrimSuffix(library, ".dylib") + ".o"
	case Windows:
		return strings.TrimSuffix(library, ".dll") + ".obj"
	default:
		panic(fmt.Sprintf("link: unknown platform %d", int(p)))
	}
}

// Command builds the full linker argument vector for producing library
// from object.
func (p Platform) Command(linker, library, object string) []string {
	switch p {
	case Linux:
		return []string{linker, "-shared", "-z", "noexecstack", "-o", library, object}
	case SunOS:
		return []string{linker, "-shared", "-o", library, object}
	case Darwin:
		return []string{linker, "-dylib", "-o", library, object}
	case Windows:
		return []string{linker, "/DLL", "/OPT:NOREF", "/NOLOGO", "/NOENTRY", "/OUT:" + library, object}
	default:
		panic(fmt.Sprintf("link: unknown platform %d", int(p)))
	}
}

// Linker runs the native link step.
type Linker struct {
	Platform Platform
	// Path is the linker executable; empty means the platform default
	// (resolved by DefaultLinker).
	Path   string
	Logger *log.Logger
}

// Run links object into library. On failure the object file is left on
// disk for inspection and the returned error carries the linker's stderr.
// On success the object file is removed and, except on Windows, execute
// bits are stripped from the library.
func (l *Linker) Run(ctx context.Context, library, object string) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Discard()
	}
	args := l.Platform.Command(l.Path, library, object)
	logger.Debugf("%s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("link failed: %s", strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("link failed: %w", err)
	}

	if err := os.Remove(object); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s file: %w", object, err)
	}
	if l.Platform != Windows {
		info, err := os.Stat(library)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", library, err)
		}
		if err := os.Chmod(library, info.Mode().Perm()&^0o111); err != nil {
			return fmt.Errorf("failed to change attribute for %s file: %w", library, err)
		}
	}
	return nil
}
