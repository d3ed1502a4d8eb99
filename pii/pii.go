// Package pii provides field-level encryption and hashing for personally
// identifiable columns (national ID, phone, email).
//
// Ciphertext layout is iv || tag || ciphertext, base64-encoded, using
// AES-256-GCM with a random IV per message. Hash is a salted SHA-256 hex
// digest, stable across process restarts, used for indexed equality lookup
// on the *_hash sibling columns.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Service abstracts the encryption primitives the loader depends on.
type Service interface {
	// Encrypt returns the base64 ciphertext for plaintext.
	Encrypt(plaintext string) (string, error)
	// Decrypt reverses Encrypt.
	Decrypt(ciphertext string) (string, error)
	// Hash returns a deterministic salted hex digest of plaintext.
	Hash(plaintext string) string
}

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

const gcmTagSize = 16

// Sentinel errors for ciphertext handling.
var (
	ErrInvalidKeySize    = errors.New("encryption key must be 32 bytes")
	ErrMalformedMessage  = errors.New("malformed ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// AESGCM is the default Service implementation.
type AESGCM struct {
	aead cipher.AEAD
	salt []byte
}

// NewAESGCM creates a Service from 32 bytes of key material and a hash
// salt. The salt must be stable across deployments or hash-indexed
// equality lookups break.
func NewAESGCM(key, salt []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead, salt: salt}, nil
}

// NewAESGCMFromHex creates a Service from hex-encoded key material, the
// form the ENCRYPTION_KEY environment variable carries.
func NewAESGCMFromHex(hexKey string, salt []byte) (*AESGCM, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode key material: %w", err)
	}
	return NewAESGCM(key, salt)
}

// Encrypt seals plaintext under a fresh random IV and re-orders the
// sealed output into iv || tag || ciphertext before base64 encoding.
func (s *AESGCM) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	// Seal returns ciphertext || tag; the stored layout wants the tag first.
	sealed := s.aead.Seal(nil, iv, []byte(plaintext), nil)
	body := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, len(iv)+len(sealed))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Tampered or truncated messages fail with an
// error matching ErrDecryptionFailed or ErrMalformedMessage.
func (s *AESGCM) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	ivSize := s.aead.NonceSize()
	if len(raw) < ivSize+gcmTagSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(raw))
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+gcmTagSize]
	body := raw[ivSize+gcmTagSize:]

	sealed := make([]byte, 0, len(tag)+len(body))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns hex(sha256(salt || plaintext)).
func (s *AESGCM) Hash(plaintext string) string {
	h := sha256.New()
	h.Write(s.salt)
	h.Write([]byte(plaintext))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify AESGCM implements Service.
var _ Service = (*AESGCM)(nil)
