package transcodine

import "bytes"

// growthFactor is the multiplier applied to a growable buffer's capacity
// whenever an append would overflow it.
const growthFactor = 2

// Buffer is an owned, growable byte container. A Buffer tracks a logical
// size separate from its capacity, so callers can accumulate framed records
// without repeated reallocation.
//
// A Buffer comes in two modes. A growable buffer doubles its capacity until
// an append fits. A fixed buffer never reallocates: appending past its
// capacity is a programming error and panics. Views created with ViewBuffer
// are fixed buffers whose storage is borrowed rather than owned; a view must
// not outlive the memory it borrows.
type Buffer struct {
	data  []byte
	size  int
	fixed bool
}

// NewBuffer returns a growable buffer with the given initial capacity.
// Panics if capacity is not positive.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("transcodine: buffer capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// NewFixedBuffer returns a fixed buffer with the given capacity. Appending
// beyond the capacity panics. Panics if capacity is not positive.
func NewFixedBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("transcodine: buffer capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity), fixed: true}
}

// ViewBuffer returns a fixed buffer whose backing storage is p itself. The
// view's size and capacity both equal len(p). The view does not own the
// memory and must have a strictly shorter lifetime than p.
func ViewBuffer(p []byte) *Buffer {
	return &Buffer{data: p, size: len(p), fixed: true}
}

// Len returns the logical size of the buffer.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer's current capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Fixed reports whether the buffer refuses to grow.
func (b *Buffer) Fixed() bool { return b.fixed }

// Bytes returns the buffer's contents. The slice aliases the buffer's
// storage and is only valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// grow reallocates the backing storage so that at least need bytes fit.
func (b *Buffer) grow(need int) {
	if b.fixed {
		panic("transcodine: cannot grow fixed buffer")
	}
	capacity := len(b.data)
	for need > capacity {
		capacity *= growthFactor
	}
	data := make([]byte, capacity)
	copy(data, b.data[:b.size])
	b.data = data
}

// Append copies p onto the end of the buffer, growing it as required.
// Panics if the buffer is fixed and p does not fit.
func (b *Buffer) Append(p []byte) {
	if b.size+len(p) > len(b.data) {
		b.grow(b.size + len(p))
	}
	copy(b.data[b.size:], p)
	b.size += len(p)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	if b.size+1 > len(b.data) {
		b.grow(b.size + 1)
	}
	b.data[b.size] = c
	b.size++
}

// Concat appends the contents of src.
func (b *Buffer) Concat(src *Buffer) {
	b.Append(src.Bytes())
}

// CopyFrom replaces the buffer's contents with a copy of src's contents.
// Panics if the buffer is fixed and the contents do not fit.
func (b *Buffer) CopyFrom(src *Buffer) {
	if src.size > len(b.data) {
		b.grow(src.size)
	}
	copy(b.data, src.data[:src.size])
	b.size = src.size
}

// Clear resets the logical size to zero. Capacity is preserved and the
// underlying memory is not zeroed.
func (b *Buffer) Clear() { b.size = 0 }

// Equal reports whether two buffers hold identical contents. Buffers of
// different sizes are never equal.
func (b *Buffer) Equal(other *Buffer) bool {
	return bytes.Equal(b.Bytes(), other.Bytes())
}
