// Package unit models the compilation units the driver works on: methods
// grouped by their owning class, as delivered by an external front end.
package unit

// Well-known method names shared with the front end.
const (
	ConstructorName = "<init>"
	InitializerName = "<clinit>"
)

// Flags describe structural method properties relevant to selection.
type Flags uint8

const (
	// HasBody marks a method with an executable body.
	HasBody Flags = 1 << iota
	// Static marks a static method.
	Static
	// Native marks a native method; never compiled.
	Native
	// Abstract marks an abstract method; never compiled.
	Abstract
)

// Has reports whether all bits in flag are set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// Method is one compilable routine. Once admitted for compilation it is
// owned by the coordinator and must not be mutated.
type Method struct {
	Owner      string // dotted qualified class name, e.g. "java.lang.String"
	Name       string // ConstructorName for constructors, InitializerName for <clinit>
	Descriptor string // signature descriptor, e.g. "(II)I"
	Flags      Flags
	Body       []byte // opaque method body handed to the compiler service
}

// QualifiedName returns "owner.name".
func (m *Method) QualifiedName() string { return m.Owner + "." + m.Name }

// FullDescriptor returns "owner.name(descriptor...)", the form the
// compile-commands patterns with a parameter list match against.
func (m *Method) FullDescriptor() string { return m.Owner + "." + m.Name + m.Descriptor }

// Compilable reports whether the method passes the structural gate:
// it must carry a body and be neither native nor abstract.
func (m *Method) Compilable() bool {
	return m.Flags.Has(HasBody) && !m.Flags.Has(Native) && !m.Flags.Has(Abstract)
}

// Class is one class descriptor: its identity plus its members in
// declaration order (constructors first, then declared methods, then the
// static initializer if present). That order is what makes container layout
// reproducible across runs.
type Class struct {
	Name    string
	Super   string
	Methods []Method
}

// Initializer returns the static initializer, or nil if the class has none.
func (c *Class) Initializer() *Method {
	for i := range c.Methods {
		if c.Methods[i].Name == InitializerName {
			return &c.Methods[i]
		}
	}
	return nil
}
