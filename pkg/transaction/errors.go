package transaction

import "errors"

// Transaction errors, visible through Err() after completion or abort.
var (
	// ErrTimeout is recorded when a transaction exceeds its time budget.
	ErrTimeout = errors.New("transaction: timed out")

	// ErrUnexpectedResponse is recorded when a correlated frame carries a
	// message type the state machine cannot accept.
	ErrUnexpectedResponse = errors.New("transaction: unexpected response type")

	// ErrCancelled is recorded when the session shut down mid-transaction.
	ErrCancelled = errors.New("transaction: cancelled")

	// ErrHandshakeFailed is recorded when session establishment aborts.
	ErrHandshakeFailed = errors.New("transaction: handshake failed")

	// ErrUnknownPattern is returned by New for a pattern value the
	// constructor does not know.
	ErrUnknownPattern = errors.New("transaction: unknown pattern")
)
