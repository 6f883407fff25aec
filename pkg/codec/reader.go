package codec

import (
	"encoding/binary"
	"fmt"
)

// Reader consumes fields from a payload slice.
// The first error sticks; subsequent gets return zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader creates a reader over the given payload bytes.
// The slice is not copied.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// need reserves n bytes for the named field, recording a short-buffer
// error with field context when the payload runs out.
func (r *Reader) need(name string, n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: field %q at offset %d: need %d, have %d",
			ErrShortBuffer, name, r.off, n, len(r.buf)-r.off)
		return false
	}
	return true
}

// Uint8 reads a single byte.
func (r *Reader) Uint8(name string) uint8 {
	if !r.need(name, 1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

// Uint16 reads a big-endian 16-bit integer.
func (r *Reader) Uint16(name string) uint16 {
	if !r.need(name, 2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

// Uint32 reads a big-endian 32-bit integer.
func (r *Reader) Uint32(name string) uint32 {
	if !r.need(name, 4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// Int8 reads a signed byte.
func (r *Reader) Int8(name string) int8 { return int8(r.Uint8(name)) }

// Int16 reads a big-endian signed 16-bit integer.
func (r *Reader) Int16(name string) int16 { return int16(r.Uint16(name)) }

// Int32 reads a big-endian signed 32-bit integer.
func (r *Reader) Int32(name string) int32 { return int32(r.Uint32(name)) }

// CompactUint reads a compact integer. See Writer.PutCompactUint.
func (r *Reader) CompactUint(name string) uint8 { return r.Uint8(name) }

// FixedBytes reads exactly n bytes and returns a copy.
func (r *Reader) FixedBytes(name string, n int) []byte {
	if !r.need(name, n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += n
	return out
}

// CountedBytes reads a big-endian length prefix of the given width
// (1 or 2 bytes) followed by that many bytes, returned as a copy.
func (r *Reader) CountedBytes(name string, width int) []byte {
	var n int
	switch width {
	case 1:
		n = int(r.Uint8(name))
	case 2:
		n = int(r.Uint16(name))
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: field %q: width %d", ErrBadPrefixWidth, name, width)
		}
		return nil
	}
	return r.FixedBytes(name, n)
}

// Rest returns a copy of all unread bytes.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	out := make([]byte, len(r.buf)-r.off)
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}
