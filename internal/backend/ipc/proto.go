package ipc

import "aotc/internal/backend"

// Wire operations. The service runs as "<command> serve" and speaks
// msgpack frames over stdin/stdout: one request value, one response value,
// correlated by id. Responses may arrive out of order.
const (
	opHello      = "hello"
	opCompile    = "compile"
	opScopeOpen  = "scope.open"
	opScopeClose = "scope.close"
	opShutdown   = "shutdown"
)

type request struct {
	ID      uint64       `msgpack:"id"`
	Op      string       `msgpack:"op"`
	Method  *wireMethod  `msgpack:"method,omitempty"`
	Options *wireOptions `msgpack:"options,omitempty"`
}

type response struct {
	ID       uint64        `msgpack:"id"`
	Error    string        `msgpack:"error,omitempty"`
	Hello    *wireHello    `msgpack:"hello,omitempty"`
	Compiled *wireCompiled `msgpack:"compiled,omitempty"`
}

type wireMethod struct {
	Owner      string `msgpack:"owner"`
	Name       string `msgpack:"name"`
	Descriptor string `msgpack:"descriptor"`
	Flags      uint8  `msgpack:"flags"`
	Body       []byte `msgpack:"body"`
}

type wireOptions struct {
	Tiered     bool `msgpack:"tiered"`
	Assertions bool `msgpack:"assertions"`
}

type wireHello struct {
	Name    string   `msgpack:"name"`
	Version string   `msgpack:"version"`
	Refuse  []string `msgpack:"refuse"` // compilability-policy patterns
}

type wireStub struct {
	Name string `msgpack:"name"`
	Code []byte `msgpack:"code"`
}

type wireCompiled struct {
	Code       []byte     `msgpack:"code"`
	Constants  []byte     `msgpack:"constants"`
	DependsOn  []string   `msgpack:"depends_on"`
	TypeRefs   []string   `msgpack:"type_refs"`
	DataRefs   []string   `msgpack:"data_refs"`
	ObjectRefs []string   `msgpack:"object_refs"`
	Stubs      []wireStub `msgpack:"stubs"`
	FrameSize  uint32     `msgpack:"frame_size"`
	MetaFlags  uint32     `msgpack:"meta_flags"`
}

func (w *wireCompiled) payload() *backend.Compiled {
	out := &backend.Compiled{
		Code:       w.Code,
		Constants:  w.Constants,
		DependsOn:  w.DependsOn,
		TypeRefs:   w.TypeRefs,
		DataRefs:   w.DataRefs,
		ObjectRefs: w.ObjectRefs,
		Meta:       backend.Meta{FrameSize: w.FrameSize, Flags: w.MetaFlags},
	}
	for _, s := range w.Stubs {
		out.Stubs = append(out.Stubs, backend.Stub{Name: s.Name, Code: s.Code})
	}
	return out
}
