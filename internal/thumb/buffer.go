// Completion: 100% - Code buffer complete
package thumb

import (
	"bytes"
	"encoding/binary"
)

// codeBuffer is one recording scope: the session's top-level blob or a
// nested block. It is append-only until committed, and it carries the
// literals that were referenced from it but not yet placed.
type codeBuffer struct {
	buf       *bytes.Buffer
	committed bool
	serial    uint64 // identifies the buffer for BlockHandle checks

	// terminal is set while the last instruction was an unconditional
	// transfer of control, so an island placed right here needs no branch.
	terminal bool
	// returned is set while the last instruction was the epilogue
	returned bool
	// fence is the furthest target of a forward branch emitted so far.
	// No island may be placed before it.
	fence int

	pool literalPool
}

func newCodeBuffer(serial uint64) *codeBuffer {
	return &codeBuffer{
		buf:    &bytes.Buffer{},
		serial: serial,
	}
}

func (b *codeBuffer) len() int {
	return b.buf.Len()
}

// put16 appends one halfword, low byte first
func (b *codeBuffer) put16(hw uint16) {
	if b.committed {
		panic("codeBuffer: cannot write to committed buffer")
	}
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], hw)
	b.buf.Write(tmp[:])
}

func (b *codeBuffer) put32(w uint32) {
	if b.committed {
		panic("codeBuffer: cannot write to committed buffer")
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], w)
	b.buf.Write(tmp[:])
}

func (b *codeBuffer) putBytes(p []byte) {
	if b.committed {
		panic("codeBuffer: cannot write to committed buffer")
	}
	b.buf.Write(p)
}

// at16 reads back the halfword at byte offset off
func (b *codeBuffer) at16(off int) uint16 {
	return binary.LittleEndian.Uint16(b.buf.Bytes()[off:])
}

// patch16 rewrites the halfword at byte offset off
func (b *codeBuffer) patch16(off int, hw uint16) {
	if b.committed {
		panic("codeBuffer: cannot patch committed buffer")
	}
	binary.LittleEndian.PutUint16(b.buf.Bytes()[off:], hw)
}

// fenceAt keeps islands out of everything before end
func (b *codeBuffer) fenceAt(end int) {
	b.fence = max(b.fence, end)
}

// tail returns a copy of everything from off to the end
func (b *codeBuffer) tail(off int) []byte {
	return append([]byte(nil), b.buf.Bytes()[off:]...)
}

// commit finalizes the buffer and hands its bytes over. The buffer keeps
// no reference to the returned slice.
func (b *codeBuffer) commit() []byte {
	if b.committed {
		panic("codeBuffer: committed twice")
	}
	b.committed = true
	out := b.buf.Bytes()
	b.buf = &bytes.Buffer{}
	return out
}
