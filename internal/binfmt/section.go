package binfmt

import (
	"encoding/binary"
	"fmt"
)

// Section is a named append-only byte buffer with a monotonically
// increasing write cursor. All multi-byte values are little-endian.
//
// Sections belong to exactly one Container. Writing to a section of a
// finalized container is a pipeline-ordering bug, not bad input, and
// panics.
type Section struct {
	kind      Kind
	buf       []byte
	container *Container
}

// Kind returns the section's identity.
func (s *Section) Kind() Kind { return s.kind }

// Name returns the section's stable name.
func (s *Section) Name() string { return s.kind.String() }

// Size returns the current write cursor.
func (s *Section) Size() int { return len(s.buf) }

// Bytes exposes the accumulated contents. Callers must not mutate it.
func (s *Section) Bytes() []byte { return s.buf }

func (s *Section) mustBeOpen() {
	if s.container.closed {
		panic(fmt.Sprintf("binfmt: write to section %q after container finalize", s.Name()))
	}
}

// Put appends raw bytes and returns the offset they were written at.
func (s *Section) Put(b []byte) int {
	s.mustBeOpen()
	off := len(s.buf)
	s.buf = append(s.buf, b...)
	return off
}

// PutU8 appends one byte.
func (s *Section) PutU8(v uint8) int {
	s.mustBeOpen()
	off := len(s.buf)
	s.buf = append(s.buf, v)
	return off
}

// PutU16 appends a little-endian uint16.
func (s *Section) PutU16(v uint16) int {
	s.mustBeOpen()
	off := len(s.buf)
	s.buf = binary.LittleEndian.AppendUint16(s.buf, v)
	return off
}

// PutU32 appends a little-endian uint32.
func (s *Section) PutU32(v uint32) int {
	s.mustBeOpen()
	off := len(s.buf)
	s.buf = binary.LittleEndian.AppendUint32(s.buf, v)
	return off
}

// PutU64 appends a little-endian uint64.
func (s *Section) PutU64(v uint64) int {
	s.mustBeOpen()
	off := len(s.buf)
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
	return off
}

// Align pads the section with zero bytes until the cursor is a multiple of
// n and returns the aligned cursor. n must be a power of two.
func (s *Section) Align(n int) int {
	s.mustBeOpen()
	if n <= 0 || n&(n-1) != 0 {
		panic(fmt.Sprintf("binfmt: alignment %d is not a power of two", n))
	}
	for len(s.buf)%n != 0 {
		s.buf = append(s.buf, 0)
	}
	return len(s.buf)
}
