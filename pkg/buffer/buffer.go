// Package buffer provides the growable byte buffers used to shuttle TLS
// records between a socket and a security engine.
//
// A Buffer has a fixed capacity and two cursors: bytes in [r, w) are unread,
// bytes in [w, cap) are free for writing. Capacity changes only through Grow,
// which returns a new Buffer; it never shrinks.
package buffer

import (
	"errors"
	"io"
)

// ErrPolicyViolation reports that a buffer was sized smaller than a record
// the engine already asked for. It is an implementation bug, not a peer error.
var ErrPolicyViolation = errors.New("buffer: policy violation")

// ErrFull is returned by Write when the free space cannot hold the data.
var ErrFull = errors.New("buffer: full")

// Buffer is a fixed-capacity byte region with read and write cursors.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New returns an empty Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Cap returns the capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Free returns the number of bytes that can be written without compacting.
func (b *Buffer) Free() int { return len(b.buf) - b.w }

// Bytes returns the unread bytes. The slice aliases the buffer and is valid
// until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.buf[b.r:b.w] }

// WriteSpace returns the free region. Callers fill it and call Advance.
func (b *Buffer) WriteSpace() []byte { return b.buf[b.w:] }

// Advance marks n bytes of WriteSpace as written.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Free() {
		panic("buffer: advance out of range")
	}
	b.w += n
}

// Consume marks n unread bytes as read.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic("buffer: consume out of range")
	}
	b.r += n
	if b.r == b.w {
		b.r, b.w = 0, 0
	}
}

// Compact moves the unread bytes to the start of the buffer.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

// Reset discards all unread bytes.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
}

// Write appends p, compacting first if needed. It writes nothing and returns
// ErrFull when p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		b.Compact()
		if len(p) > b.Free() {
			return 0, ErrFull
		}
	}
	n := copy(b.buf[b.w:], p)
	b.w += n
	return n, nil
}

// ReadOnce compacts the buffer and performs a single Read from r into the
// free space.
func (b *Buffer) ReadOnce(r io.Reader) (int, error) {
	b.Compact()
	if b.Free() == 0 {
		return 0, ErrFull
	}
	n, err := r.Read(b.buf[b.w:])
	if n > 0 {
		b.w += n
	}
	return n, err
}

// Grow returns a buffer with capacity max(proposed, 2*b.Cap()) holding b's
// unread bytes at its head. b must not be used afterwards.
func Grow(b *Buffer, proposed int) *Buffer {
	capacity := 2 * b.Cap()
	if proposed > capacity {
		capacity = proposed
	}
	nb := New(capacity)
	nb.w = copy(nb.buf, b.Bytes())
	return nb
}

// HandleUnderflow is called when a partial record is buffered. If proposed is
// below the current capacity the record fits once more bytes arrive and b is
// returned unchanged; otherwise b is grown.
func HandleUnderflow(b *Buffer, proposed int) *Buffer {
	if proposed < b.Cap() {
		return b
	}
	return Grow(b, proposed)
}
