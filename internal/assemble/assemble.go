// Package assemble folds compiled method payloads into the section
// container. The walk is single-threaded and deterministic: classes in
// sorted-by-name order, methods in the order the coordinator gathered them.
package assemble

import (
	"fmt"
	"sort"

	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"

	"aotc/internal/backend"
	"aotc/internal/binfmt"
	"aotc/internal/compile"
	"aotc/internal/log"
	"aotc/internal/unit"
	"aotc/internal/version"
)

const (
	// formatVersion is bumped whenever a record layout changes.
	formatVersion = 1
	// codeSegmentSize is the granularity of the code-to-method map.
	codeSegmentSize = 1024
	// codeAlign keeps every code blob on a cache-line-friendly boundary.
	codeAlign = 16
	// stateCompiled marks a method whose code made it into the container.
	stateCompiled = 1

	optTiered     = 1 << 0
	optAssertions = 1 << 1
)

// Assembler accumulates compiled classes into a container. One Assemble
// call per container; the zero value is not usable without a backend.
type Assembler struct {
	Backend backend.Compiler
	Options backend.Options
	Logger  *log.Logger
}

// interner writes each distinct name once, NFC-normalized and
// u16-length-prefixed, and hands out its byte offset as the name index.
type interner struct {
	sec *binfmt.Section
	idx map[string]uint32
}

func newInterner(sec *binfmt.Section) *interner {
	return &interner{sec: sec, idx: map[string]uint32{}}
}

func (t *interner) index(name string) (uint32, error) {
	name = norm.NFC.String(name)
	if off, ok := t.idx[name]; ok {
		return off, nil
	}
	size, err := safecast.Conv[uint16](len(name))
	if err != nil {
		return 0, fmt.Errorf("name %q too long: %w", name, err)
	}
	off, err := safecast.Conv[uint32](t.sec.Size())
	if err != nil {
		return 0, err
	}
	t.sec.PutU16(size)
	t.sec.Put([]byte(name))
	t.idx[name] = off
	return off, nil
}

// got is one indirection table: an 8-byte slot per distinct referenced
// name, holding the name index until the loader overwrites it with a
// resolved pointer.
type got struct {
	sec   *binfmt.Section
	slots map[uint32]uint32 // name index -> slot ordinal
}

func newGot(sec *binfmt.Section) *got {
	return &got{sec: sec, slots: map[uint32]uint32{}}
}

// span allots slots for the names not seen before and returns the ordinal
// range of the newly allotted ones. Repeat references resolve through the
// slot allotted at first sight, so a method's span covers only its new
// entries.
func (g *got) span(names []string, in *interner) (first, count uint32, err error) {
	first, err = safecast.Conv[uint32](len(g.slots))
	if err != nil {
		return 0, 0, err
	}
	for _, name := range names {
		nameIdx, err := in.index(name)
		if err != nil {
			return 0, 0, err
		}
		if _, ok := g.slots[nameIdx]; ok {
			continue
		}
		slot, err := safecast.Conv[uint32](len(g.slots))
		if err != nil {
			return 0, 0, err
		}
		g.slots[nameIdx] = slot
		g.sec.PutU64(uint64(nameIdx))
		count++
	}
	return first, count, nil
}

// state carries the mutable walk state so the per-method step stays
// readable.
type state struct {
	c       *binfmt.Container
	names   *interner
	typeGot *got
	dataGot *got
	oopGot  *got

	methodIndex uint32 // next global method ordinal
	stubs       map[string]struct{}
	segments    []uint32 // code segment -> owning method ordinal
}

// appendCode places a blob into the code section, 16-byte aligned, and
// claims its segments for the owning method.
func (st *state) appendCode(code []byte, owner uint32) (off, size uint32, err error) {
	sec := st.c.Section(binfmt.Code)
	start := sec.Align(codeAlign)
	sec.Put(code)
	off, err = safecast.Conv[uint32](start)
	if err != nil {
		return 0, 0, err
	}
	size, err = safecast.Conv[uint32](len(code))
	if err != nil {
		return 0, 0, err
	}
	if len(code) == 0 {
		return off, 0, nil
	}
	last := (start + len(code) - 1) / codeSegmentSize
	for len(st.segments) <= last {
		st.segments = append(st.segments, 0)
	}
	for seg := start / codeSegmentSize; seg <= last; seg++ {
		st.segments[seg] = owner
	}
	return off, size, nil
}

// Assemble walks classes into the container sections. The backend debug
// scope stays open for the whole walk: stub and metadata symbol resolution
// on the service side needs the per-run context alive until the last class
// is flushed.
func (a *Assembler) Assemble(c *binfmt.Container, classes []*compile.CompiledClass) error {
	logger := a.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if err := a.Backend.OpenScope(); err != nil {
		return fmt.Errorf("failed to open backend scope: %w", err)
	}
	defer func() {
		if err := a.Backend.CloseScope(); err != nil {
			logger.Warningf("failed to close backend scope: %v", err)
		}
	}()

	sorted := make([]*compile.CompiledClass, len(classes))
	copy(sorted, classes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Class.Name < sorted[j].Class.Name
	})

	st := &state{
		c:       c,
		names:   newInterner(c.Section(binfmt.MetaspaceNames)),
		typeGot: newGot(c.Section(binfmt.MetaspaceGot)),
		dataGot: newGot(c.Section(binfmt.MetadataGot)),
		oopGot:  newGot(c.Section(binfmt.OopGot)),
		stubs:   map[string]struct{}{},
	}

	classCount := uint32(0)
	for _, cc := range sorted {
		emitted, err := a.assembleClass(st, cc)
		if err != nil {
			return err
		}
		if emitted {
			classCount++
		} else {
			logger.Verbosef(" %s: nothing compiled, skipped", cc.Class.Name)
		}
		cc.Release()
	}

	for _, owner := range st.segments {
		c.Section(binfmt.CodeSegments).PutU32(owner)
	}

	stubCount, err := safecast.Conv[uint32](len(st.stubs))
	if err != nil {
		return err
	}
	header := c.Section(binfmt.Header)
	header.Put([]byte("AOTC"))
	header.PutU32(formatVersion)
	header.PutU32(classCount)
	header.PutU32(st.methodIndex)
	header.PutU32(stubCount)

	a.writeConfig(c.Section(binfmt.Config))
	return nil
}

// assembleClass flushes one class. Classes where every method failed leave
// no trace in the container.
func (a *Assembler) assembleClass(st *state, cc *compile.CompiledClass) (bool, error) {
	firstMethod := st.methodIndex
	depSec := st.c.Section(binfmt.KlassesDependencies)
	depBase, err := safecast.Conv[uint32](depSec.Size() / 4)
	if err != nil {
		return false, err
	}
	depSeen := map[uint32]struct{}{}
	depTotal := uint32(0)

	// Dependencies dedup per class; each method's span covers the edges
	// it contributed first.
	addDeps := func(names []string) (first, count uint32, err error) {
		first = depBase + depTotal
		for _, name := range names {
			nameIdx, err := st.names.index(name)
			if err != nil {
				return 0, 0, err
			}
			if _, ok := depSeen[nameIdx]; ok {
				continue
			}
			depSeen[nameIdx] = struct{}{}
			depSec.PutU32(nameIdx)
			depTotal++
			count++
		}
		return first, count, nil
	}

	methodCount := uint32(0)
	for i, m := range cc.Methods {
		if cc.Results[i] == nil {
			continue
		}
		if err := a.assembleMethod(st, m, cc.Results[i], addDeps); err != nil {
			return false, fmt.Errorf("failed to assemble %s: %w", m.FullDescriptor(), err)
		}
		methodCount++
	}
	if methodCount == 0 {
		return false, nil
	}

	nameIdx, err := st.names.index(cc.Class.Name)
	if err != nil {
		return false, err
	}
	ko := st.c.Section(binfmt.KlassesOffsets)
	ko.PutU32(nameIdx)
	ko.PutU32(methodCount)
	ko.PutU32(firstMethod)
	ko.PutU32(depBase)
	ko.PutU32(depTotal)
	return true, nil
}

type depFunc func(names []string) (first, count uint32, err error)

func (a *Assembler) assembleMethod(st *state, m *unit.Method, payload *backend.Compiled, addDeps depFunc) error {
	ordinal := st.methodIndex

	nameIdx, err := st.names.index(m.Name)
	if err != nil {
		return err
	}
	descIdx, err := st.names.index(m.Descriptor)
	if err != nil {
		return err
	}

	codeOff, codeSize, err := st.appendCode(payload.Code, ordinal)
	if err != nil {
		return err
	}

	constSec := st.c.Section(binfmt.ConstantData)
	constOff, err := safecast.Conv[uint32](constSec.Align(8))
	if err != nil {
		return err
	}
	constSec.Put(payload.Constants)
	constSize, err := safecast.Conv[uint32](len(payload.Constants))
	if err != nil {
		return err
	}

	typeFirst, typeCount, err := st.typeGot.span(payload.TypeRefs, st.names)
	if err != nil {
		return err
	}
	dataFirst, dataCount, err := st.dataGot.span(payload.DataRefs, st.names)
	if err != nil {
		return err
	}
	oopFirst, oopCount, err := st.oopGot.span(payload.ObjectRefs, st.names)
	if err != nil {
		return err
	}
	depFirst, depCount, err := addDeps(payload.DependsOn)
	if err != nil {
		return err
	}

	for _, stub := range payload.Stubs {
		if _, ok := st.stubs[stub.Name]; ok {
			continue
		}
		st.stubs[stub.Name] = struct{}{}
		stubNameIdx, err := st.names.index(stub.Name)
		if err != nil {
			return err
		}
		stubOff, stubSize, err := st.appendCode(stub.Code, ordinal)
		if err != nil {
			return err
		}
		so := st.c.Section(binfmt.StubsOffsets)
		so.PutU32(stubNameIdx)
		so.PutU32(stubOff)
		so.PutU32(stubSize)
	}

	meta := st.c.Section(binfmt.MethodMetadata)
	recordOff, err := safecast.Conv[uint32](meta.Size())
	if err != nil {
		return err
	}
	meta.PutU32(nameIdx)
	meta.PutU32(descIdx)
	meta.PutU32(codeOff)
	meta.PutU32(codeSize)
	meta.PutU32(constOff)
	meta.PutU32(constSize)
	meta.PutU32(typeFirst)
	meta.PutU32(typeCount)
	meta.PutU32(dataFirst)
	meta.PutU32(dataCount)
	meta.PutU32(oopFirst)
	meta.PutU32(oopCount)
	meta.PutU32(depFirst)
	meta.PutU32(depCount)
	meta.PutU32(payload.Meta.Flags)
	meta.PutU32(payload.Meta.FrameSize)

	st.c.Section(binfmt.MethodsOffsets).PutU32(recordOff)
	st.c.Section(binfmt.MethodState).PutU8(stateCompiled)

	st.methodIndex++
	return nil
}

// writeConfig records the toolchain identity and option flags so the
// loader can reject artifacts built by an incompatible configuration.
func (a *Assembler) writeConfig(sec *binfmt.Section) {
	putString := func(s string) {
		if len(s) > 0xFFFF {
			s = s[:0xFFFF]
		}
		sec.PutU16(uint16(len(s)))
		sec.Put([]byte(s))
	}
	putString(version.Plain)
	putString(a.Backend.Name())
	putString(a.Backend.Version())
	flags := uint32(0)
	if a.Options.Tiered {
		flags |= optTiered
	}
	if a.Options.Assertions {
		flags |= optAssertions
	}
	sec.PutU32(flags)
}
