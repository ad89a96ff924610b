// Package envelope implements AES-256-GCM encryption of signatures at rest,
// using a fresh random nonce per call and the colon-separated hex framing
// hex(iv):hex(tag):hex(ciphertext) this system stores on disk.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrIntegrityViolation covers every way a stored ciphertext can fail to
// decrypt: malformed framing, wrong-length fields, or tag verification
// failure. Callers should not distinguish between these cases — any of
// them means the stored form cannot be trusted.
var ErrIntegrityViolation = errors.New("envelope: integrity violation")

const (
	nonceSize = 12 // 96 bits
	tagSize   = 16 // 128 bits
	keySize   = 32 // 256 bits
)

// Cipher holds a process-wide AES-256-GCM key, loaded once at startup and
// read-only thereafter.
type Cipher struct {
	gcm cipher.AEAD
}

// New constructs a Cipher from a hex-encoded 32-byte key (optionally
// "0x"-prefixed).
func New(keyHex string) (*Cipher, error) {
	if keyHex == "" {
		return nil, errors.New("envelope: no encryption key configured")
	}
	key, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid key encoding: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid key: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm setup failed: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts plaintext under a fresh random nonce and returns the stored
// textual form "hex(iv):hex(tag):hex(ciphertext)". Each call is
// independent; there is no per-record key derivation.
func (c *Cipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope: nonce generation failed: %w", err)
	}
	sealed := c.gcm.Seal(nil, nonce, plaintext, nil)
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(nonce), hex.EncodeToString(tag), hex.EncodeToString(body)), nil
}

// Open decrypts the stored textual form produced by Seal. Any framing
// error, field-length mismatch, or tag mismatch returns
// ErrIntegrityViolation.
func (c *Cipher) Open(stored string) ([]byte, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return nil, ErrIntegrityViolation
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, ErrIntegrityViolation
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrIntegrityViolation
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrIntegrityViolation
	}
	sealed := append(append([]byte{}, body...), tag...)
	plaintext, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrityViolation
	}
	return plaintext, nil
}
