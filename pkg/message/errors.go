package message

import "errors"

// Message layer errors.
var (
	// ErrUnknownCommand names a command the registry does not know. No
	// function in this package returns it: Lookup reports an unknown
	// command with ok == false, and unknown inbound commands decode into
	// Default.
	ErrUnknownCommand = errors.New("message: unknown command")

	// ErrDuplicateCommand reports two message types claiming one command
	// code. Raised (as a panic) while the registry is built.
	ErrDuplicateCommand = errors.New("message: duplicate command registration")

	// ErrBodyTooShort is returned for a frame body shorter than the two
	// sequence bytes.
	ErrBodyTooShort = errors.New("message: body shorter than sequence bytes")
)
