// Package filter implements the compile-commands restriction file:
// glob-style compileOnly/exclude patterns deciding which methods get
// ahead-of-time compiled.
package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"

	"aotc/internal/log"
	"aotc/internal/unit"
)

// pattern is one compiled directive pattern. A pattern that mentions a
// parameter list matches the full descriptor, otherwise the qualified name.
type pattern struct {
	raw  string
	g    glob.Glob
	full bool
}

func (p pattern) matches(m *unit.Method) bool {
	if p.full {
		return p.g.Match(m.FullDescriptor())
	}
	return p.g.Match(m.QualifiedName())
}

// Spec holds the ordered include/exclude pattern sets. The zero value (or
// an absent directive file) compiles everything. Immutable after loading.
type Spec struct {
	compileOnly []pattern
	exclude     []pattern
}

// Load reads the directive file at path, one directive per line:
//
//	compileOnly <pattern>
//	exclude <pattern>
//
// '#' lines are comments, blank lines are skipped, any other shape is a
// warning, never a failure. An empty path yields the empty Spec. A path
// that cannot be opened is an error: the user asked for restrictions the
// run cannot honor.
func Load(path string, logger *log.Logger) (*Spec, error) {
	spec := &Spec{}
	if path == "" {
		return spec, nil
	}
	f, err := os.Open(path) // #nosec G304 -- path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("unable to open method list file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			logger.Warningf("%s:%d: ignoring malformed line: %s", path, lineNo, line)
			continue
		}
		directive, raw := fields[0], fields[1]
		switch directive {
		case "compileOnly":
			spec.add(&spec.compileOnly, raw, path, lineNo, logger)
		case "exclude":
			spec.add(&spec.exclude, raw, path, lineNo, logger)
		default:
			logger.Warningf("%s:%d: unrecognized command %s, ignoring: %s", path, lineNo, directive, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("unable to read method list file %s: %w", path, err)
	}
	return spec, nil
}

func (s *Spec) add(set *[]pattern, raw, path string, lineNo int, logger *log.Logger) {
	g, err := glob.Compile(raw)
	if err != nil {
		logger.Warningf("%s:%d: ignoring unparsable pattern %q: %v", path, lineNo, raw, err)
		return
	}
	*set = append(*set, pattern{raw: raw, g: g, full: strings.Contains(raw, "(")})
}

// Empty reports whether the spec restricts nothing.
func (s *Spec) Empty() bool {
	return len(s.compileOnly) == 0 && len(s.exclude) == 0
}

// ShouldCompile decides admission for a structurally compilable method:
// the method must match the include set (or the include set is empty) and
// must not match any exclude pattern.
func (s *Spec) ShouldCompile(m *unit.Method) bool {
	if len(s.compileOnly) > 0 {
		included := false
		for _, p := range s.compileOnly {
			if p.matches(m) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, p := range s.exclude {
		if p.matches(m) {
			return false
		}
	}
	return true
}

// CompileOnlyPatterns returns the raw include patterns in load order.
func (s *Spec) CompileOnlyPatterns() []string { return rawPatterns(s.compileOnly) }

// ExcludePatterns returns the raw exclude patterns in load order.
func (s *Spec) ExcludePatterns() []string { return rawPatterns(s.exclude) }

func rawPatterns(set []pattern) []string {
	out := make([]string, len(set))
	for i, p := range set {
		out[i] = p.raw
	}
	return out
}
