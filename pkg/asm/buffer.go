// Package asm provides the byte-level emission buffer shared by the code
// generator and the metadata emitters. It is deliberately minimal: append
// raw bytes and little-endian words, record the current offset, and align.
package asm

import "encoding/binary"

// Buffer accumulates the instruction stream and trailing metadata for one
// compiled function. Offsets returned by PCOffset are byte offsets from the
// start of the buffer and remain stable as the buffer grows.
type Buffer struct {
	code []byte
}

// NewBuffer creates an empty emission buffer.
func NewBuffer() *Buffer {
	return &Buffer{code: make([]byte, 0, 256)}
}

// Byte appends a single byte.
func (b *Buffer) Byte(v byte) {
	b.code = append(b.code, v)
}

// Bytes appends raw bytes.
func (b *Buffer) Bytes(p []byte) {
	b.code = append(b.code, p...)
}

// Uint32 appends a 4-byte word, least-significant byte first.
func (b *Buffer) Uint32(v uint32) {
	b.code = binary.LittleEndian.AppendUint32(b.code, v)
}

// PCOffset returns the current write offset in bytes.
func (b *Buffer) PCOffset() int {
	return len(b.code)
}

// Align pads the buffer with zero bytes until the write offset is a
// multiple of alignment. The padding sits between the last instruction and
// the metadata that follows, so it is never executed.
func (b *Buffer) Align(alignment int) {
	for len(b.code)%alignment != 0 {
		b.code = append(b.code, 0)
	}
}

// Code returns the emitted bytes. The slice aliases the buffer's storage;
// callers treat it as immutable once emission is complete.
func (b *Buffer) Code() []byte {
	return b.code
}
