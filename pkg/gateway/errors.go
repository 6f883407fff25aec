package gateway

import "errors"

// Gateway errors.
var (
	// ErrClosed is returned after Stop.
	ErrClosed = errors.New("gateway: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("gateway: already started")

	// ErrSessionNotFound is returned when a send names an unknown session.
	ErrSessionNotFound = errors.New("gateway: session not found")
)
