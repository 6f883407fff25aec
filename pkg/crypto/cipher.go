// Package crypto implements the ITv2 session envelope: AES-128-ECB with
// zero padding applied to whole inner frames, and the two key-negotiation
// schemes used during the handshake. ECB without an IV or MAC is dictated
// by the panel protocol; the frame CRC is the only integrity check.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// Key and block sizes. The protocol uses AES-128 throughout.
const (
	KeySize   = 16
	BlockSize = aes.BlockSize
)

// Cipher encrypts and decrypts whole frames with AES-128-ECB.
// One direction of one session owns each instance.
type Cipher struct {
	block cipher.Block
	key   []byte
}

// NewCipher creates a cipher from a 16-byte key. The key is copied.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, key: k}, nil
}

// Encrypt returns the frame encrypted block by block, zero-padded to a
// whole number of blocks. The input is not modified.
func (c *Cipher) Encrypt(b []byte) []byte {
	n := len(b)
	if rem := n % BlockSize; rem != 0 {
		n += BlockSize - rem
	}
	padded := make([]byte, n)
	copy(padded, b)

	out := make([]byte, n)
	for i := 0; i < n; i += BlockSize {
		c.block.Encrypt(out[i:i+BlockSize], padded[i:i+BlockSize])
	}
	return out
}

// Decrypt reverses Encrypt. Zero padding is left in place; the frame
// length prefix bounds the real content. The input length must be a whole
// number of blocks.
func (c *Cipher) Decrypt(b []byte) ([]byte, error) {
	if len(b)%BlockSize != 0 {
		return nil, ErrCiphertextLength
	}
	out := make([]byte, len(b))
	for i := 0; i < len(b); i += BlockSize {
		c.block.Decrypt(out[i:i+BlockSize], b[i:i+BlockSize])
	}
	return out, nil
}

// Close zeroises the key copy. The cipher must not be used afterwards.
func (c *Cipher) Close() {
	for i := range c.key {
		c.key[i] = 0
	}
	c.block = nil
}
