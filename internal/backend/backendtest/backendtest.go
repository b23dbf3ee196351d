// Package backendtest provides a scripted in-process compiler service for
// tests. Outputs are deterministic functions of the method identity, so
// container-layout tests can assert exact bytes without a real compiler.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobwas/glob"

	"aotc/internal/backend"
	"aotc/internal/unit"
)

// Script configures a Fake.
type Script struct {
	// RefusePatterns are glob patterns (matched against the qualified
	// method name) the policy check rejects.
	RefusePatterns []string
	// FailPatterns are glob patterns whose methods fail to compile.
	FailPatterns []string
	// FailMessage is the error text for failed compilations.
	FailMessage string
	// Outputs overrides the generated payload per full descriptor.
	Outputs map[string]*backend.Compiled
}

// Fake is a scripted backend.Compiler. Safe for concurrent use.
type Fake struct {
	script  Script
	refuse  []glob.Glob
	fail    []glob.Glob
	mu      sync.Mutex
	calls   []string
	scopes  int
	maxOpen int
}

// New compiles the script's patterns and returns the fake service.
func New(script Script) (*Fake, error) {
	f := &Fake{script: script}
	for _, p := range script.RefusePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad refuse pattern %q: %w", p, err)
		}
		f.refuse = append(f.refuse, g)
	}
	for _, p := range script.FailPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad fail pattern %q: %w", p, err)
		}
		f.fail = append(f.fail, g)
	}
	return f, nil
}

func (f *Fake) Name() string    { return "backendtest" }
func (f *Fake) Version() string { return "0.0.0" }

func (f *Fake) ShouldCompile(m *unit.Method) bool {
	for _, g := range f.refuse {
		if g.Match(m.QualifiedName()) {
			return false
		}
	}
	return true
}

func (f *Fake) Compile(_ context.Context, m *unit.Method, _ backend.Options) (*backend.Compiled, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m.FullDescriptor())
	f.mu.Unlock()

	for _, g := range f.fail {
		if g.Match(m.QualifiedName()) {
			msg := f.script.FailMessage
			if msg == "" {
				msg = "compilation failed"
			}
			return nil, fmt.Errorf("%s: %s", m.QualifiedName(), msg)
		}
	}
	if out, ok := f.script.Outputs[m.FullDescriptor()]; ok {
		return out, nil
	}
	// Детерминированный payload: код — полный дескриптор метода.
	return &backend.Compiled{
		Code:      []byte(m.FullDescriptor()),
		Constants: []byte(m.Name),
		DependsOn: []string{m.Owner},
		TypeRefs:  []string{m.Owner},
		Meta:      backend.Meta{FrameSize: 16},
	}, nil
}

func (f *Fake) OpenScope() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes++
	if f.scopes > f.maxOpen {
		f.maxOpen = f.scopes
	}
	return nil
}

func (f *Fake) CloseScope() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scopes == 0 {
		return fmt.Errorf("scope close without open")
	}
	f.scopes--
	return nil
}

func (f *Fake) Close() error { return nil }

// Calls returns the full descriptors of every Compile call so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// OpenScopes returns the number of currently open debug scopes.
func (f *Fake) OpenScopes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scopes
}
