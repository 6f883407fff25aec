package crypto

import "errors"

// Keying errors.
var (
	// ErrUnsupportedScheme is returned for an encryption type byte the
	// gateway does not implement.
	ErrUnsupportedScheme = errors.New("crypto: unsupported encryption scheme")

	// ErrInitializerLength is returned when a handshake initializer has the
	// wrong size for the negotiated scheme.
	ErrInitializerLength = errors.New("crypto: invalid initializer length")

	// ErrCheckMismatch is returned when the check bytes interleaved in a
	// Type 1 initializer do not match the decrypted content.
	ErrCheckMismatch = errors.New("crypto: initializer check bytes mismatch")

	// ErrInvalidKey is returned for a key that is not exactly 16 bytes.
	ErrInvalidKey = errors.New("crypto: invalid key length")

	// ErrInvalidAccessCode is returned when a configured access code or
	// identification number cannot produce a key.
	ErrInvalidAccessCode = errors.New("crypto: invalid access code")

	// ErrCiphertextLength is returned when ciphertext is not a whole number
	// of cipher blocks.
	ErrCiphertextLength = errors.New("crypto: ciphertext not block aligned")
)
