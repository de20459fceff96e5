package artifact

import "errors"

// ErrBufferFull is returned by Buffer.Write when a write would exceed
// the capacity fixed at construction time.
var ErrBufferFull = errors.New("artifact buffer capacity exceeded")

// Buffer is a fixed-capacity byte sink for in-memory artifacts. The
// capacity is set once, when the hosting artifact reserves memory, and
// never grows: a fetcher that tries to write past it gets ErrBufferFull
// instead of a silent reallocation that would bypass memory accounting.
type Buffer struct {
	buf []byte
	cap int
}

// NewBuffer returns a buffer that accepts at most capacity bytes.
// A negative capacity is treated as zero.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, 0, capacity), cap: capacity}
}

// Write appends p to the buffer. If the write would exceed the fixed
// capacity, nothing is written and ErrBufferFull is returned.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(b.buf)+len(p) > b.cap {
		return 0, ErrBufferFull
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Bytes returns the bytes written so far. The slice aliases the
// internal storage and must not be retained across further writes.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.buf) }

// Cap returns the fixed capacity the buffer was created with.
func (b *Buffer) Cap() int { return b.cap }
