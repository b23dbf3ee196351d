package assemble_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"aotc/internal/assemble"
	"aotc/internal/backend"
	"aotc/internal/backend/backendtest"
	"aotc/internal/binfmt"
	"aotc/internal/compile"
	"aotc/internal/log"
	"aotc/internal/unit"
)

func method(owner, name, desc string) *unit.Method {
	return &unit.Method{Owner: owner, Name: name, Descriptor: desc, Flags: unit.HasBody}
}

// nameAt decodes the interned name stored at the given name index.
func nameAt(t *testing.T, names []byte, idx uint32) string {
	t.Helper()
	if int(idx)+2 > len(names) {
		t.Fatalf("name index %d out of range", idx)
	}
	n := binary.LittleEndian.Uint16(names[idx:])
	return string(names[idx+2 : idx+2+uint32(n)])
}

func assembleFixture(t *testing.T) (*binfmt.Container, *backendtest.Fake, []*compile.CompiledClass) {
	t.Helper()
	fake, err := backendtest.New(backendtest.Script{})
	if err != nil {
		t.Fatal(err)
	}

	sharedStub := backend.Stub{Name: "resolve_static_call", Code: []byte{0xCC, 0xCC}}
	big := bytes.Repeat([]byte{0x90}, 1500) // spans two code segments

	mb1 := method("pkg.Beta", "<init>", "()V")
	mb2 := method("pkg.Beta", "run", "()V")
	ma1 := method("pkg.Alpha", "work", "(I)I")

	beta := &compile.CompiledClass{
		Class:   &unit.Class{Name: "pkg.Beta"},
		Methods: []*unit.Method{mb1, mb2},
		Results: []*backend.Compiled{
			{
				Code:      []byte{0x01, 0x02},
				Constants: []byte("k1"),
				DependsOn: []string{"pkg.Alpha", "java.lang.Object"},
				TypeRefs:  []string{"java.lang.Object"},
				Stubs:     []backend.Stub{sharedStub},
				Meta:      backend.Meta{FrameSize: 32},
			},
			{
				Code:      big,
				DependsOn: []string{"java.lang.Object"}, // duplicate within the class
				TypeRefs:  []string{"java.lang.Object", "pkg.Alpha"},
				Stubs:     []backend.Stub{sharedStub},
			},
		},
		Failures: make([]error, 2),
	}
	alpha := &compile.CompiledClass{
		Class:   &unit.Class{Name: "pkg.Alpha"},
		Methods: []*unit.Method{ma1},
		Results: []*backend.Compiled{
			{
				Code:       []byte{0x03},
				TypeRefs:   []string{"java.lang.Object"},
				ObjectRefs: []string{"pool"},
			},
		},
		Failures: make([]error, 1),
	}

	c := binfmt.NewContainer()
	a := &assemble.Assembler{
		Backend: fake,
		Options: backend.Options{Tiered: true},
		Logger:  log.Discard(),
	}
	// Передаём классы в обратном порядке: ассемблер обязан отсортировать.
	classes := []*compile.CompiledClass{beta, alpha}
	if err := a.Assemble(c, classes); err != nil {
		t.Fatal(err)
	}
	return c, fake, classes
}

func TestHeaderCounts(t *testing.T) {
	c, _, _ := assembleFixture(t)
	h := c.Section(binfmt.Header).Bytes()
	if !bytes.Equal(h[:4], []byte("AOTC")) {
		t.Fatalf("bad magic %q", h[:4])
	}
	if classes := binary.LittleEndian.Uint32(h[8:]); classes != 2 {
		t.Errorf("class count = %d, want 2", classes)
	}
	if methods := binary.LittleEndian.Uint32(h[12:]); methods != 3 {
		t.Errorf("method count = %d, want 3", methods)
	}
	if stubs := binary.LittleEndian.Uint32(h[16:]); stubs != 1 {
		t.Errorf("stub count = %d, want 1", stubs)
	}
}

func TestClassesSortedByName(t *testing.T) {
	c, _, _ := assembleFixture(t)
	ko := c.Section(binfmt.KlassesOffsets).Bytes()
	names := c.Section(binfmt.MetaspaceNames).Bytes()
	// 5 u32 per record
	if len(ko) != 2*20 {
		t.Fatalf("klasses.offsets length = %d, want 40", len(ko))
	}
	first := nameAt(t, names, binary.LittleEndian.Uint32(ko[0:]))
	second := nameAt(t, names, binary.LittleEndian.Uint32(ko[20:]))
	if first != "pkg.Alpha" || second != "pkg.Beta" {
		t.Errorf("class order = %q, %q", first, second)
	}
	// pkg.Alpha was assembled first, its method gets ordinal 0
	if fm := binary.LittleEndian.Uint32(ko[8:]); fm != 0 {
		t.Errorf("first method of pkg.Alpha = %d, want 0", fm)
	}
	if mc := binary.LittleEndian.Uint32(ko[24:]); mc != 2 {
		t.Errorf("method count of pkg.Beta = %d, want 2", mc)
	}
}

func TestNamesInternedOnce(t *testing.T) {
	c, _, _ := assembleFixture(t)
	names := c.Section(binfmt.MetaspaceNames).Bytes()
	count := 0
	for off := 0; off < len(names); {
		n := int(binary.LittleEndian.Uint16(names[off:]))
		if string(names[off+2:off+2+n]) == "java.lang.Object" {
			count++
		}
		off += 2 + n
	}
	if count != 1 {
		t.Errorf("java.lang.Object interned %d times, want 1", count)
	}
}

func TestGotSlotsDeduplicated(t *testing.T) {
	c, _, _ := assembleFixture(t)
	// distinct type refs: java.lang.Object, pkg.Alpha
	if size := c.Section(binfmt.MetaspaceGot).Size(); size != 2*8 {
		t.Errorf("metaspace.got size = %d, want 16", size)
	}
	if size := c.Section(binfmt.OopGot).Size(); size != 1*8 {
		t.Errorf("oop.got size = %d, want 8", size)
	}
	if size := c.Section(binfmt.MetadataGot).Size(); size != 0 {
		t.Errorf("metadata.got size = %d, want 0", size)
	}
}

func TestDependenciesDeduplicatedPerClass(t *testing.T) {
	c, _, _ := assembleFixture(t)
	// pkg.Beta contributes pkg.Alpha + java.lang.Object once despite the
	// repeat in its second method; pkg.Alpha contributes none.
	if size := c.Section(binfmt.KlassesDependencies).Size(); size != 2*4 {
		t.Errorf("klasses.dependencies size = %d, want 8", size)
	}
}

func TestStubEmittedOnce(t *testing.T) {
	c, _, _ := assembleFixture(t)
	so := c.Section(binfmt.StubsOffsets).Bytes()
	if len(so) != 12 {
		t.Fatalf("stubs.offsets length = %d, want one 12-byte record", len(so))
	}
	code := c.Section(binfmt.Code).Bytes()
	if n := bytes.Count(code, []byte{0xCC, 0xCC}); n != 1 {
		t.Errorf("stub code appears %d times, want 1", n)
	}
	off := binary.LittleEndian.Uint32(so[4:])
	size := binary.LittleEndian.Uint32(so[8:])
	if size != 2 || !bytes.Equal(code[off:off+size], []byte{0xCC, 0xCC}) {
		t.Errorf("stub record points at %x", code[off:off+size])
	}
}

func TestCodeSegmentsCoverEveryByte(t *testing.T) {
	c, _, _ := assembleFixture(t)
	codeSize := c.Section(binfmt.Code).Size()
	segs := c.Section(binfmt.CodeSegments).Bytes()
	wantSegs := (codeSize + 1023) / 1024
	if len(segs) != wantSegs*4 {
		t.Fatalf("segment map has %d entries, want %d", len(segs)/4, wantSegs)
	}
	// the 1500-byte method (global ordinal 2, pkg.Beta.run) owns the
	// segments its code spans
	owners := map[uint32]bool{}
	for i := 0; i < len(segs); i += 4 {
		owners[binary.LittleEndian.Uint32(segs[i:])] = true
	}
	if !owners[2] {
		t.Error("no segment owned by method ordinal 2")
	}
}

func TestMethodRecords(t *testing.T) {
	c, _, _ := assembleFixture(t)
	mo := c.Section(binfmt.MethodsOffsets).Bytes()
	if len(mo) != 3*4 {
		t.Fatalf("methods.offsets has %d entries, want 3", len(mo)/4)
	}
	meta := c.Section(binfmt.MethodMetadata).Bytes()
	if len(meta) != 3*64 {
		t.Fatalf("method.metadata length = %d, want 192", len(meta))
	}
	for i := 0; i < 3; i++ {
		if got := binary.LittleEndian.Uint32(mo[i*4:]); got != uint32(i*64) {
			t.Errorf("record offset[%d] = %d, want %d", i, got, i*64)
		}
	}
	if state := c.Section(binfmt.MethodState).Bytes(); len(state) != 3 {
		t.Errorf("method.state has %d bytes, want 3", len(state))
	}
	names := c.Section(binfmt.MetaspaceNames).Bytes()
	// ordinal 0 is pkg.Alpha.work
	rec := meta[0:64]
	if got := nameAt(t, names, binary.LittleEndian.Uint32(rec[0:])); got != "work" {
		t.Errorf("method 0 name = %q", got)
	}
	if got := nameAt(t, names, binary.LittleEndian.Uint32(rec[4:])); got != "(I)I" {
		t.Errorf("method 0 descriptor = %q", got)
	}
	if size := binary.LittleEndian.Uint32(rec[12:]); size != 1 {
		t.Errorf("method 0 code size = %d, want 1", size)
	}
}

func TestCodeAlignment(t *testing.T) {
	c, _, _ := assembleFixture(t)
	meta := c.Section(binfmt.MethodMetadata).Bytes()
	for i := 0; i < len(meta); i += 64 {
		off := binary.LittleEndian.Uint32(meta[i+8:])
		if off%16 != 0 {
			t.Errorf("method %d code offset %d not 16-byte aligned", i/64, off)
		}
	}
}

func TestScopeBracketAndRelease(t *testing.T) {
	_, fake, classes := assembleFixture(t)
	if fake.OpenScopes() != 0 {
		t.Errorf("%d scopes left open", fake.OpenScopes())
	}
	for _, cc := range classes {
		if cc.Methods != nil || cc.Results != nil {
			t.Errorf("class %s not released", cc.Class.Name)
		}
	}
}

func TestSkipsFullyFailedClass(t *testing.T) {
	fake, err := backendtest.New(backendtest.Script{})
	if err != nil {
		t.Fatal(err)
	}
	m := method("pkg.Broken", "bad", "()V")
	cc := &compile.CompiledClass{
		Class:    &unit.Class{Name: "pkg.Broken"},
		Methods:  []*unit.Method{m},
		Results:  []*backend.Compiled{nil},
		Failures: []error{bytes.ErrTooLarge},
	}
	c := binfmt.NewContainer()
	a := &assemble.Assembler{Backend: fake, Logger: log.Discard()}
	if err := a.Assemble(c, []*compile.CompiledClass{cc}); err != nil {
		t.Fatal(err)
	}
	if size := c.Section(binfmt.KlassesOffsets).Size(); size != 0 {
		t.Errorf("failed class left a record (%d bytes)", size)
	}
	h := c.Section(binfmt.Header).Bytes()
	if classes := binary.LittleEndian.Uint32(h[8:]); classes != 0 {
		t.Errorf("class count = %d, want 0", classes)
	}
}
