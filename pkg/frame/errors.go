package frame

import "errors"

// Framing errors.
var (
	// ErrFraming is returned when a packet is missing a delimiter or its
	// length prefix disagrees with the data.
	ErrFraming = errors.New("frame: malformed packet framing")

	// ErrEncoding is returned for an illegal escape sequence or a reserved
	// byte appearing unescaped inside packet content.
	ErrEncoding = errors.New("frame: illegal byte stuffing")

	// ErrChecksum is returned when the frame CRC does not match.
	ErrChecksum = errors.New("frame: checksum mismatch")

	// ErrTooLong is returned when a frame exceeds the representable length.
	ErrTooLong = errors.New("frame: frame too long")
)
