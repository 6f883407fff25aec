package session

import "errors"

// Session errors.
var (
	// ErrDisconnected is returned from Run when the panel closed the
	// connection.
	ErrDisconnected = errors.New("session: peer disconnected")

	// ErrClosed is returned when an operation is attempted on a session
	// that has shut down.
	ErrClosed = errors.New("session: closed")

	// ErrLockTimeout is the fatal deadlock guard: the session lock could
	// not be acquired within the configured budget.
	ErrLockTimeout = errors.New("session: lock acquisition timed out")
)
