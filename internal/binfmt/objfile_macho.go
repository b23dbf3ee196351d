package binfmt

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"os"
	"strings"
)

const (
	machoHeaderSize  = 32
	machoSegmentSize = 72
	machoSectionSize = 80

	machoProtRW  = 3 // read | write
	machoProtRWX = 7 // read | write | execute

	sectAttrSomeInstructions = 0x00000400
	sectAttrPureInstructions = 0x80000000
)

// machoSectionName maps a logical section name into the 16-byte Mach-O
// section-name field: "__" prefix, dots to underscores, truncated.
// Truncation keeps the catalogue names distinct.
func machoSectionName(name string) [16]byte {
	var out [16]byte
	s := "__" + strings.ReplaceAll(name, ".", "_")
	copy(out[:], s)
	return out
}

// writeMachO emits an MH_OBJECT Mach-O file with a single "__AOT" segment
// holding every non-empty logical section.
func writeMachO(path string, c *Container) error {
	secs := c.nonEmpty()
	le := binary.LittleEndian

	cmdSize := uint32(machoSegmentSize + machoSectionSize*len(secs))
	dataStart := uint64(machoHeaderSize) + uint64(cmdSize)

	out := new(bytes.Buffer)
	// bytes.Buffer writes cannot fail
	put := func(v any) { _ = binary.Write(out, le, v) }

	// mach_header_64
	put(macho.Magic64)
	put(uint32(macho.CpuAmd64))
	put(uint32(3)) // CPU_SUBTYPE_X86_64_ALL
	put(uint32(macho.TypeObj))
	put(uint32(1)) // one load command
	put(cmdSize)
	put(uint32(0)) // flags
	put(uint32(0)) // reserved

	var segName [16]byte
	copy(segName[:], "__AOT")

	// Assign addresses and file offsets contiguously, 16-byte aligned.
	type placed struct {
		sec  *Section
		addr uint64
		off  uint64
	}
	align := func(v uint64) uint64 { return (v + 15) &^ 15 }
	placedSecs := make([]placed, 0, len(secs))
	addr := uint64(0)
	off := dataStart
	for _, s := range secs {
		addr = align(addr)
		off = align(off)
		placedSecs = append(placedSecs, placed{sec: s, addr: addr, off: off})
		addr += uint64(s.Size())
		off += uint64(s.Size())
	}
	fileSize := off - dataStart

	// LC_SEGMENT_64
	put(uint32(macho.LoadCmdSegment64))
	put(cmdSize)
	put(segName)
	put(uint64(0)) // vmaddr
	put(align(addr))
	put(dataStart) // fileoff
	put(fileSize)
	put(uint32(machoProtRWX)) // maxprot
	put(uint32(machoProtRW))  // initprot
	put(uint32(len(secs)))
	put(uint32(0)) // segment flags

	for _, p := range placedSecs {
		flags := uint32(0)
		if p.sec.Kind() == Code {
			flags = sectAttrPureInstructions | sectAttrSomeInstructions
		}
		put(machoSectionName(p.sec.Name()))
		put(segName)
		put(p.addr)
		put(uint64(p.sec.Size()))
		put(uint32(p.off))
		put(uint32(4)) // log2(16) alignment
		put(uint32(0)) // reloff
		put(uint32(0)) // nreloc
		put(flags)
		put(uint32(0))
		put(uint32(0))
		put(uint32(0))
	}

	for _, p := range placedSecs {
		for uint64(out.Len()) < p.off {
			out.WriteByte(0)
		}
		out.Write(p.sec.Bytes())
	}

	return os.WriteFile(path, out.Bytes(), 0o644) // #nosec G306 -- object file, linker input
}
