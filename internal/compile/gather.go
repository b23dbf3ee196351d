// Package compile implements the compilation coordinator: method
// gathering through the selection gates and parallel dispatch to the
// compiler service over a bounded worker pool.
package compile

import (
	"fmt"
	"strings"

	"aotc/internal/backend"
	"aotc/internal/filter"
	"aotc/internal/log"
	"aotc/internal/unit"
)

// validateMembers is the member-enumeration step. A descriptor file can
// carry malformed entries (front-end bugs, truncated exports); surfacing
// them here keeps the policy decision at one place.
func validateMembers(c *unit.Class) error {
	type sig struct{ name, desc string }
	seen := make(map[sig]struct{}, len(c.Methods))
	for i := range c.Methods {
		m := &c.Methods[i]
		if m.Name == "" {
			return fmt.Errorf("%s: member %d has no name", c.Name, i)
		}
		if !strings.HasPrefix(m.Descriptor, "(") {
			return fmt.Errorf("%s.%s: malformed descriptor %q", c.Name, m.Name, m.Descriptor)
		}
		s := sig{m.Name, m.Descriptor}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%s: duplicate member %s%s", c.Name, m.Name, m.Descriptor)
		}
		seen[s] = struct{}{}
	}
	return nil
}

// Gather walks every class and admits methods through the three gates:
// structural (a body, neither native nor abstract), the compilation spec,
// and the service's compilability policy. Enumeration order per class is
// constructors, then declared methods, then the static initializer, and is
// what fixes the container layout.
//
// Member-enumeration failures are policy-gated: reported and skipped under
// IgnoreLoadErrors, fatal otherwise.
func Gather(classes []unit.Class, spec *filter.Spec, comp backend.Compiler, pol Policy, logger *log.Logger) ([]*CompiledClass, error) {
	total := 0
	count := 0
	out := make([]*CompiledClass, 0, len(classes))

	for i := range classes {
		c := &classes[i]
		if err := validateMembers(c); err != nil {
			if pol.IgnoreLoadErrors {
				logger.Errorf("%s: %v", c.Name, err)
				continue
			}
			return nil, fmt.Errorf("failed to enumerate members of %s: %w", c.Name, err)
		}

		logger.Verbosef(" Scanning %s", c.Name)
		cc := &CompiledClass{Class: c}

		admit := func(m *unit.Method) {
			total++
			if !m.Compilable() {
				return
			}
			if !spec.ShouldCompile(m) {
				return
			}
			if !comp.ShouldCompile(m) {
				return
			}
			cc.Methods = append(cc.Methods, m)
			logger.Verbosef("  added %s%s", m.Name, m.Descriptor)
			logger.WriteLog("added " + m.FullDescriptor())
		}

		// Constructors
		for j := range c.Methods {
			if c.Methods[j].Name == unit.ConstructorName {
				admit(&c.Methods[j])
			}
		}
		// Declared methods
		for j := range c.Methods {
			if name := c.Methods[j].Name; name != unit.ConstructorName && name != unit.InitializerName {
				admit(&c.Methods[j])
			}
		}
		// Class initializer
		if init := c.Initializer(); init != nil {
			admit(init)
		}

		if cc.MethodCount() > 0 {
			cc.Results = make([]*backend.Compiled, cc.MethodCount())
			cc.Failures = make([]error, cc.MethodCount())
			out = append(out, cc)
			count += cc.MethodCount()
		}
	}

	logger.Infof("%d methods total, %d methods to compile", total, count)
	return out, nil
}
