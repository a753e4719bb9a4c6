package cryptostore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a raw encryption key in bytes
const KeySize = chacha20poly1305.KeySize

// ErrInvalidCiphertext is returned when a blob was tampered with, truncated,
// or sealed under a different key
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Cipher seals and opens user fact blobs. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a cipher from a 32-byte key
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is prefixed to
// the returned blob.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrInvalidCiphertext, len(blob))
	}

	nonce, sealed := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return plaintext, nil
}

// EncryptJSON marshals v and seals the result
func (c *Cipher) EncryptJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Encrypt(data)
}

// DecryptJSON opens blob and unmarshals the plaintext into v. A blob that
// opens but is not valid JSON is treated as invalid ciphertext.
func (c *Cipher) DecryptJSON(blob []byte, v any) error {
	data, err := c.Decrypt(blob)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrInvalidCiphertext, err)
	}
	return nil
}
