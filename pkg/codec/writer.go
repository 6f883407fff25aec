// Package codec implements the flat binary field codec used by ITv2 message
// payloads. All multi-byte integers are big-endian. Byte arrays are either
// fixed-length (zero-padded or truncated) or length-prefixed with a 1- or
// 2-byte big-endian count.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer appends fields to an in-memory payload buffer.
// The first error sticks; subsequent puts are no-ops.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates an empty payload writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// PutUint16 appends a big-endian 16-bit integer.
func (w *Writer) PutUint16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// PutUint32 appends a big-endian 32-bit integer.
func (w *Writer) PutUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// PutInt8 appends a signed byte.
func (w *Writer) PutInt8(v int8) { w.PutUint8(uint8(v)) }

// PutInt16 appends a big-endian signed 16-bit integer.
func (w *Writer) PutInt16(v int16) { w.PutUint16(uint16(v)) }

// PutInt32 appends a big-endian signed 32-bit integer.
func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

// PutCompactUint appends a compact integer. The compact encoding is a
// reserved hook in the protocol; every observed value fits a single byte,
// so it is written as one.
func (w *Writer) PutCompactUint(v uint8) { w.PutUint8(v) }

// PutFixedBytes appends exactly n bytes. A shorter value is right-padded
// with zeros, a longer one is truncated.
func (w *Writer) PutFixedBytes(b []byte, n int) {
	if w.err != nil {
		return
	}
	if len(b) >= n {
		w.buf = append(w.buf, b[:n]...)
		return
	}
	w.buf = append(w.buf, b...)
	w.buf = append(w.buf, make([]byte, n-len(b))...)
}

// PutCountedBytes appends a big-endian length prefix of the given width
// (1 or 2 bytes) followed by the bytes. Values too long for the prefix
// fail with ErrLengthOverflow.
func (w *Writer) PutCountedBytes(name string, b []byte, width int) {
	if w.err != nil {
		return
	}
	switch width {
	case 1:
		if len(b) > math.MaxUint8 {
			w.err = fmt.Errorf("%w: field %q: %d bytes exceeds 1-byte prefix", ErrLengthOverflow, name, len(b))
			return
		}
		w.buf = append(w.buf, uint8(len(b)))
	case 2:
		if len(b) > math.MaxUint16 {
			w.err = fmt.Errorf("%w: field %q: %d bytes exceeds 2-byte prefix", ErrLengthOverflow, name, len(b))
			return
		}
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(b)))
	default:
		w.err = fmt.Errorf("%w: field %q: width %d", ErrBadPrefixWidth, name, width)
		return
	}
	w.buf = append(w.buf, b...)
}

// PutRaw appends bytes verbatim, with no length treatment.
func (w *Writer) PutRaw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the accumulated payload, or the first error.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}
