package binfmt

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"fortio.org/safecast"
)

// stringTable builds an ELF/COFF-style string table: NUL-terminated
// strings, offset 0 reserved for the empty string.
type stringTable struct {
	buf []byte
	off map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{buf: []byte{0}, off: map[string]uint32{"": 0}}
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off, err := safecast.Conv[uint32](len(t.buf))
	if err != nil {
		panic(fmt.Errorf("string table overflow: %w", err))
	}
	t.off[s] = off
	t.buf = append(t.buf, s...)
	t.buf = append(t.buf, 0)
	return off
}

const elfDataAlign = 16

// writeELF emits an ELF64 relocatable object: one PROGBITS section per
// non-empty logical section (the code section executable), a symbol table
// with one global object symbol marking each section's start, plus the
// usual .symtab/.strtab/.shstrtab bookkeeping.
func writeELF(path string, c *Container) error {
	secs := c.nonEmpty()
	shstr := newStringTable()
	str := newStringTable()

	type placed struct {
		sec     *Section
		off     uint64
		nameOff uint32
	}

	align := func(v uint64, n uint64) uint64 {
		return (v + n - 1) &^ (n - 1)
	}

	// Заголовок, затем данные секций, затем .symtab/.strtab/.shstrtab,
	// затем таблица заголовков секций.
	off := uint64(64)
	placedSecs := make([]placed, 0, len(secs))
	for _, s := range secs {
		off = align(off, elfDataAlign)
		placedSecs = append(placedSecs, placed{
			sec:     s,
			off:     off,
			nameOff: shstr.add("." + s.Name()),
		})
		off += uint64(s.Size())
	}

	// Symbols: null + one per emitted section.
	symtab := new(bytes.Buffer)
	le := binary.LittleEndian
	if err := binary.Write(symtab, le, elf.Sym64{}); err != nil {
		return err
	}
	for i, p := range placedSecs {
		shndx, err := safecast.Conv[uint16](i + 1)
		if err != nil {
			return err
		}
		sym := elf.Sym64{
			Name:  str.add(p.sec.Name()),
			Info:  uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_OBJECT),
			Shndx: shndx,
			Value: 0,
			Size:  uint64(p.sec.Size()),
		}
		if err := binary.Write(symtab, le, sym); err != nil {
			return err
		}
	}

	symtabName := shstr.add(".symtab")
	strtabName := shstr.add(".strtab")
	shstrtabName := shstr.add(".shstrtab")

	off = align(off, 8)
	symtabOff := off
	off += uint64(symtab.Len())
	strtabOff := off
	off += uint64(len(str.buf))
	shstrtabOff := off
	off += uint64(len(shstr.buf))

	shoff := align(off, 8)
	shnum := len(placedSecs) + 4 // NULL, progbits..., .symtab, .strtab, .shstrtab
	shnum16, err := safecast.Conv[uint16](shnum)
	if err != nil {
		return err
	}
	strtabIndex := len(placedSecs) + 2
	shstrndx, err := safecast.Conv[uint16](shnum - 1)
	if err != nil {
		return err
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	out := new(bytes.Buffer)
	ehdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     shnum16,
		Shstrndx:  shstrndx,
	}
	if err := binary.Write(out, le, ehdr); err != nil {
		return err
	}

	pad := func(upto uint64) {
		for uint64(out.Len()) < upto {
			out.WriteByte(0)
		}
	}
	for _, p := range placedSecs {
		pad(p.off)
		out.Write(p.sec.Bytes())
	}
	pad(symtabOff)
	out.Write(symtab.Bytes())
	out.Write(str.buf)
	out.Write(shstr.buf)
	pad(shoff)

	// Section header table.
	if err := binary.Write(out, le, elf.Section64{}); err != nil {
		return err
	}
	for _, p := range placedSecs {
		flags := uint64(elf.SHF_ALLOC)
		if p.sec.Kind() == Code {
			flags |= uint64(elf.SHF_EXECINSTR)
		}
		sh := elf.Section64{
			Name:      p.nameOff,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     flags,
			Off:       p.off,
			Size:      uint64(p.sec.Size()),
			Addralign: elfDataAlign,
		}
		if err := binary.Write(out, le, sh); err != nil {
			return err
		}
	}
	symtabLink, err := safecast.Conv[uint32](strtabIndex)
	if err != nil {
		return err
	}
	headers := []elf.Section64{
		{
			Name:      symtabName,
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       symtabOff,
			Size:      uint64(symtab.Len()),
			Link:      symtabLink,
			Info:      1, // first global symbol
			Addralign: 8,
			Entsize:   24,
		},
		{
			Name:      strtabName,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strtabOff,
			Size:      uint64(len(str.buf)),
			Addralign: 1,
		},
		{
			Name:      shstrtabName,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       shstrtabOff,
			Size:      uint64(len(shstr.buf)),
			Addralign: 1,
		},
	}
	for _, sh := range headers {
		if err := binary.Write(out, le, sh); err != nil {
			return err
		}
	}

	return os.WriteFile(path, out.Bytes(), 0o644) // #nosec G306 -- object file, linker input
}
