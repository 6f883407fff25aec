package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when the peer closed the connection or the
	// packet conn was shut down.
	ErrClosed = errors.New("transport: connection closed")

	// ErrPacketTooLarge is returned when buffered data exceeds the maximum
	// packet size without a terminator appearing.
	ErrPacketTooLarge = errors.New("transport: packet exceeds maximum size")
)
