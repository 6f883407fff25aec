package crypto

import (
	"encoding/hex"
	"fmt"
	"io"
)

// Scheme selects a key-negotiation scheme. The panel announces its scheme
// in the handshake's OpenSession message.
type Scheme uint8

const (
	// SchemeType1 derives keys from the Integration Access Code and the
	// Integration Identification Number, both decimal digit strings.
	SchemeType1 Scheme = 1

	// SchemeType2 derives keys from a 32-hex-digit Integration Access Code.
	SchemeType2 Scheme = 2
)

// Initializer sizes on the wire.
const (
	// Type1InitializerSize is check bytes (16) plus ciphertext (32).
	Type1InitializerSize = 48

	// Type2InitializerSize is a single AES block.
	Type2InitializerSize = 16
)

// KeyConfig carries the shared secrets provisioned on the panel. Only the
// fields for the negotiated scheme are consulted.
type KeyConfig struct {
	// AccessCodeType1 is the Integration Access Code for Type 1 keying:
	// at least 8 decimal digits (only the first 8 are used).
	AccessCodeType1 string

	// IDNumber is the Integration Identification Number for Type 1 keying:
	// at least 8 decimal digits.
	IDNumber string

	// AccessCodeType2 is the Integration Access Code for Type 2 keying:
	// exactly 32 hex characters.
	AccessCodeType2 string
}

// Keying negotiates the directional session keys for one scheme.
//
// The server side is always the responder: it receives the panel's
// initializer first (yielding the outbound key), then produces its own
// (yielding the inbound key).
type Keying interface {
	// Scheme reports which scheme this keying implements.
	Scheme() Scheme

	// AcceptRemoteInitializer consumes the panel's initializer and returns
	// the cipher for server-to-panel traffic.
	AcceptRemoteInitializer(init []byte) (*Cipher, error)

	// BuildLocalInitializer generates the server's initializer. It returns
	// the bytes to transmit and the cipher for panel-to-server traffic,
	// which the session activates before the initializer is sent.
	BuildLocalInitializer(rand io.Reader) ([]byte, *Cipher, error)

	// Close zeroises the scheme's base key material.
	Close()
}

// NewKeying constructs the keying for the announced scheme.
func NewKeying(scheme Scheme, cfg KeyConfig) (Keying, error) {
	switch scheme {
	case SchemeType1:
		return newType1(cfg.AccessCodeType1, cfg.IDNumber)
	case SchemeType2:
		return newType2(cfg.AccessCodeType2)
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnsupportedScheme, scheme)
	}
}

// expandDigits turns an 8+ decimal digit code into an AES key by repeating
// the first 8 digits four times and parsing the result as hex.
func expandDigits(name, code string) ([]byte, error) {
	if len(code) < 8 {
		return nil, fmt.Errorf("%w: %s needs at least 8 digits", ErrInvalidAccessCode, name)
	}
	code = code[:8]
	for _, c := range code {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: %s contains non-digit %q", ErrInvalidAccessCode, name, c)
		}
	}
	key, err := hex.DecodeString(code + code + code + code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAccessCode, name, err)
	}
	return key, nil
}

// type1 implements the IAC+IIN scheme. The IIN key decrypts the panel's
// initializer; the IAC key encrypts ours.
type type1 struct {
	iac *Cipher
	iin *Cipher
}

func newType1(accessCode, idNumber string) (*type1, error) {
	iacKey, err := expandDigits("integration access code", accessCode)
	if err != nil {
		return nil, err
	}
	iinKey, err := expandDigits("integration identification number", idNumber)
	if err != nil {
		return nil, err
	}
	iac, err := NewCipher(iacKey)
	if err != nil {
		return nil, err
	}
	iin, err := NewCipher(iinKey)
	if err != nil {
		iac.Close()
		return nil, err
	}
	return &type1{iac: iac, iin: iin}, nil
}

func (t *type1) Scheme() Scheme { return SchemeType1 }

func (t *type1) AcceptRemoteInitializer(init []byte) (*Cipher, error) {
	if len(init) != Type1InitializerSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInitializerLength, len(init), Type1InitializerSize)
	}
	check := init[:16]
	plain, err := t.iin.Decrypt(init[16:])
	if err != nil {
		return nil, err
	}

	// The 32 decrypted bytes interleave check and key: even indexes must
	// echo the plaintext check bytes, odd indexes form the outbound key.
	key := make([]byte, KeySize)
	for i := 0; i < KeySize; i++ {
		if plain[2*i] != check[i] {
			return nil, fmt.Errorf("%w: byte %d", ErrCheckMismatch, i)
		}
		key[i] = plain[2*i+1]
	}
	return NewCipher(key)
}

func (t *type1) BuildLocalInitializer(rand io.Reader) ([]byte, *Cipher, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}

	key := make([]byte, KeySize)
	init := make([]byte, 0, Type1InitializerSize)
	for i := 0; i < KeySize; i++ {
		init = append(init, seed[2*i]) // check bytes travel in clear
		key[i] = seed[2*i+1]
	}

	inbound, err := NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	init = append(init, t.iac.Encrypt(seed)...)
	return init, inbound, nil
}

func (t *type1) Close() {
	t.iac.Close()
	t.iin.Close()
}

// type2 implements the IAC-only scheme: each side's key is the AES
// encryption of its peer-visible initializer under the shared IAC key.
type type2 struct {
	iac *Cipher
}

func newType2(accessCode string) (*type2, error) {
	if len(accessCode) != 2*KeySize {
		return nil, fmt.Errorf("%w: access code needs %d hex characters", ErrInvalidAccessCode, 2*KeySize)
	}
	key, err := hex.DecodeString(accessCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessCode, err)
	}
	iac, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &type2{iac: iac}, nil
}

func (t *type2) Scheme() Scheme { return SchemeType2 }

func (t *type2) AcceptRemoteInitializer(init []byte) (*Cipher, error) {
	if len(init) != Type2InitializerSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInitializerLength, len(init), Type2InitializerSize)
	}
	return NewCipher(t.iac.Encrypt(init))
}

func (t *type2) BuildLocalInitializer(rand io.Reader) ([]byte, *Cipher, error) {
	init := make([]byte, Type2InitializerSize)
	if _, err := io.ReadFull(rand, init); err != nil {
		return nil, nil, err
	}
	inbound, err := NewCipher(t.iac.Encrypt(init))
	if err != nil {
		return nil, nil, err
	}
	return init, inbound, nil
}

func (t *type2) Close() {
	t.iac.Close()
}
