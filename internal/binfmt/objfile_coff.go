package binfmt

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"

	"fortio.org/safecast"
)

const (
	coffHeaderSize  = 20
	coffSectionSize = 40
	coffSymbolSize  = 18

	// debug/pe exports IMAGE_SYM_CLASS_EXTERNAL only from Go 1.23 on; this
	// toolchain is older, so mirror the PE spec value here.
	imageSymClassExternal = 2
)

// coffStrings is the COFF string table: offsets are relative to the table
// start and include its 4-byte length prefix, so the first string sits at 4.
type coffStrings struct {
	buf []byte
	off map[string]uint32
}

func newCoffStrings() *coffStrings {
	return &coffStrings{off: map[string]uint32{}}
}

func (t *coffStrings) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off, err := safecast.Conv[uint32](4 + len(t.buf))
	if err != nil {
		panic(fmt.Errorf("string table overflow: %w", err))
	}
	t.off[s] = off
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	return off
}

// coffName encodes a section or symbol name into the 8-byte name field,
// spilling long names into the string table. Sections reference the table
// with "/<offset>", symbols with a zero word followed by the offset.
func coffName(name string, strs *coffStrings, symbol bool) [8]byte {
	var out [8]byte
	if len(name) <= 8 {
		copy(out[:], name)
		return out
	}
	off := strs.add(name)
	if symbol {
		binary.LittleEndian.PutUint32(out[4:], off)
	} else {
		copy(out[:], fmt.Sprintf("/%d", off))
	}
	return out
}

// writeCOFF emits an amd64 COFF object with one section per non-empty
// logical section and one external symbol marking each section's start.
func writeCOFF(path string, c *Container) error {
	secs := c.nonEmpty()
	le := binary.LittleEndian
	strs := newCoffStrings()

	type placed struct {
		sec *Section
		off uint32
	}

	dataStart := uint32(coffHeaderSize + coffSectionSize*len(secs))
	align := func(v uint32) uint32 { return (v + 15) &^ 15 }

	placedSecs := make([]placed, 0, len(secs))
	off := dataStart
	for _, s := range secs {
		off = align(off)
		placedSecs = append(placedSecs, placed{sec: s, off: off})
		size, err := safecast.Conv[uint32](s.Size())
		if err != nil {
			return err
		}
		off += size
	}
	symtabOff := off

	nsecs, err := safecast.Conv[uint16](len(secs))
	if err != nil {
		return err
	}
	nsyms, err := safecast.Conv[uint32](len(secs))
	if err != nil {
		return err
	}

	out := new(bytes.Buffer)
	// bytes.Buffer writes cannot fail
	put := func(v any) { _ = binary.Write(out, le, v) }

	put(pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     nsecs,
		PointerToSymbolTable: symtabOff,
		NumberOfSymbols:      nsyms,
	})

	for _, p := range placedSecs {
		characteristics := uint32(pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ)
		if p.sec.Kind() == Code {
			characteristics = pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ
		}
		size, err := safecast.Conv[uint32](p.sec.Size())
		if err != nil {
			return err
		}
		put(pe.SectionHeader32{
			Name:             coffName("."+p.sec.Name(), strs, false),
			SizeOfRawData:    size,
			PointerToRawData: p.off,
			Characteristics:  characteristics,
		})
	}

	for _, p := range placedSecs {
		for uint32(out.Len()) < p.off {
			out.WriteByte(0)
		}
		out.Write(p.sec.Bytes())
	}

	for i, p := range placedSecs {
		secno, err := safecast.Conv[int16](i + 1)
		if err != nil {
			return err
		}
		put(pe.COFFSymbol{
			Name:          coffName(p.sec.Name(), strs, true),
			SectionNumber: secno,
			StorageClass:  imageSymClassExternal,
		})
	}

	strtabSize, err := safecast.Conv[uint32](4 + len(strs.buf))
	if err != nil {
		return err
	}
	put(strtabSize)
	out.Write(strs.buf)

	return os.WriteFile(path, out.Bytes(), 0o644) // #nosec G306 -- object file, linker input
}
