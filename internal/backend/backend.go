// Package backend defines the contract with the external compiler service.
// The driver treats the service as opaque: it takes one method and returns
// compiled code plus metadata, or fails. Anything beyond that contract
// (optimization behavior, intermediate representations) is the service's
// own business.
package backend

import (
	"context"

	"aotc/internal/unit"
)

// Options are opaque compilation switches forwarded with every request.
type Options struct {
	Tiered     bool // generate profiling code for tiered compilation
	Assertions bool // compile with assertions enabled
}

// Stub is an out-of-line code stub referenced by compiled code. Stubs with
// the same name are identical; the assembler emits each once.
type Stub struct {
	Name string
	Code []byte
}

// Meta is the per-method metadata record the service produces alongside code.
type Meta struct {
	FrameSize uint32
	Flags     uint32
}

// Compiled is the payload for one successfully compiled method. Ownership
// moves with the value: once handed to the assembler the coordinator drops
// its reference so the service-side state can be reclaimed.
type Compiled struct {
	Code       []byte
	Constants  []byte
	DependsOn  []string // classes this code assumes loaded and initialized
	TypeRefs   []string // metaspace indirection table entries
	DataRefs   []string // metadata indirection table entries
	ObjectRefs []string // out-of-line object references
	Stubs      []Stub
	Meta       Meta
}

// Compiler is the external compiler service. Compile must be safe to call
// concurrently from multiple workers.
type Compiler interface {
	// Name identifies the service implementation.
	Name() string
	// Version reports the service version string.
	Version() string
	// ShouldCompile is the service-side compilability policy (for example,
	// deoptimization-sensitive methods it refuses to compile ahead of time).
	// Evaluated after the structural gate and the compilation spec.
	ShouldCompile(m *unit.Method) bool
	// Compile compiles one method.
	Compile(ctx context.Context, m *unit.Method, opts Options) (*Compiled, error)
	// OpenScope brackets assembler symbol resolution: the service keeps
	// auxiliary debug-context state alive until the matching CloseScope.
	OpenScope() error
	// CloseScope releases the state opened by OpenScope.
	CloseScope() error
	// Close ends the session with the service.
	Close() error
}
