// Package streambuf implements the append-and-drain byte buffer used by
// stream reads and decoders: prepare/commit/pull/data/size. Unlike a
// circular ring buffer addressed by absolute offsets, this buffer only
// ever holds the bytes between the last pull and the last commit — it
// compacts on demand rather than wrapping, which is all the Buffer
// collaborator contract requires.
package streambuf

// Buffer is an append/drain byte buffer: prepare reserves room for an
// upcoming read, commit marks bytes actually received as live data, data
// exposes the live region, and pull discards bytes already consumed by a
// decoder.
type Buffer struct {
	buf []byte
	off int // start of live data within buf
	len int // length of live data
}

// New returns an empty Buffer with an initial capacity hint.
func New(capacityHint int) *Buffer {
	if capacityHint <= 0 {
		capacityHint = 4096
	}
	return &Buffer{buf: make([]byte, capacityHint)}
}

// Prepare returns a slice of at least n unused bytes for the reactor to
// read into. It compacts the live region to the front first if that's
// enough room, and otherwise grows the backing array.
func (b *Buffer) Prepare(n int) []byte {
	if n <= 0 {
		n = 4096
	}
	if cap(b.buf)-(b.off+b.len) >= n {
		return b.buf[b.off+b.len : b.off+b.len+n]
	}
	if cap(b.buf)-b.len >= n {
		copy(b.buf, b.buf[b.off:b.off+b.len])
		b.off = 0
		return b.buf[b.len : b.len+n]
	}
	grown := make([]byte, b.len+n)
	copy(grown, b.buf[b.off:b.off+b.len])
	b.buf = grown
	b.off = 0
	return b.buf[b.len : b.len+n]
}

// Commit marks n bytes, previously returned by Prepare, as live data.
func (b *Buffer) Commit(n int) {
	b.len += n
}

// Pull discards the first n bytes of live data, as consumed by a decoder.
func (b *Buffer) Pull(n int) {
	if n > b.len {
		n = b.len
	}
	b.off += n
	b.len -= n
	if b.len == 0 {
		b.off = 0
	}
}

// Data returns the live region. The slice is only valid until the next
// Prepare call, which may compact or reallocate the backing array.
func (b *Buffer) Data() []byte {
	return b.buf[b.off : b.off+b.len]
}

// Size returns the number of live bytes.
func (b *Buffer) Size() int {
	return b.len
}
