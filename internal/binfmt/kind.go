// Package binfmt models the multi-section binary container an AOT
// artifact is accumulated into, and emits it as a relocatable native
// object file in the host platform's convention.
package binfmt

// Kind identifies one logical section of the container. The set is closed:
// downstream loader code depends on fixed section roles, so sections are an
// enumeration rather than ad hoc named fields.
type Kind int

const (
	// Header carries the artifact magic, format version and entity counts.
	Header Kind = iota
	// Config carries tool/backend versions and option flags.
	Config
	// KlassesOffsets holds one record per compiled class.
	KlassesOffsets
	// MethodsOffsets maps each compiled method to its metadata record.
	MethodsOffsets
	// KlassesDependencies holds inter-class dependency edges.
	KlassesDependencies
	// StubsOffsets holds one record per deduplicated code stub.
	StubsOffsets
	// MethodMetadata holds the per-method metadata records.
	MethodMetadata
	// Code holds the raw machine code.
	Code
	// CodeSegments maps fixed-size code segments to their owning method.
	CodeSegments
	// ConstantData holds per-method constant pool blobs.
	ConstantData
	// MetaspaceGot is the indirection table for metaspace/type references.
	MetaspaceGot
	// MetadataGot is the indirection table for field/constant references.
	MetadataGot
	// MethodState holds one compiled-state flag byte per method.
	MethodState
	// OopGot is the table of out-of-line object references.
	OopGot
	// MetaspaceNames interns every referenced type/method name once.
	MetaspaceNames

	kindCount
)

var kindNames = [kindCount]string{
	Header:              "header",
	Config:              "config",
	KlassesOffsets:      "klasses.offsets",
	MethodsOffsets:      "methods.offsets",
	KlassesDependencies: "klasses.dependencies",
	StubsOffsets:        "stubs.offsets",
	MethodMetadata:      "method.metadata",
	Code:                "code",
	CodeSegments:        "code.segments",
	ConstantData:        "constant.data",
	MetaspaceGot:        "metaspace.got",
	MetadataGot:         "metadata.got",
	MethodState:         "method.state",
	OopGot:              "oop.got",
	MetaspaceNames:      "metaspace.names",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Layout returns every section kind in its fixed serialization order.
// Loader code depends on the roles, not on cross-section byte order, but a
// stable order keeps artifacts byte-comparable across runs.
func Layout() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// KindByName resolves a section name back to its Kind.
func KindByName(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}
