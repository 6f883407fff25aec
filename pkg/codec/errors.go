package codec

import "errors"

// Codec errors.
var (
	// ErrShortBuffer is returned when a read runs past the end of the buffer.
	// Wrapped errors carry the field name, offset and byte count.
	ErrShortBuffer = errors.New("codec: short buffer")

	// ErrLengthOverflow is returned when a counted array does not fit its
	// length prefix.
	ErrLengthOverflow = errors.New("codec: length exceeds prefix range")

	// ErrBadPrefixWidth is returned for a length-prefix width other than 1 or 2.
	ErrBadPrefixWidth = errors.New("codec: invalid length prefix width")
)
