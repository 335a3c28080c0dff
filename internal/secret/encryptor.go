// Package secret implements the authenticated-encryption and keyed-hash
// primitives behind API keys and share tokens. Two independent concerns live
// here: reversible AES-256-GCM encryption for values that must be revealed
// later, and one-way hashing for O(1) authentication lookups.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required AES-256 key size in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce size in bytes (96-bit IV).
	NonceSize = 12

	// TagSize is the GCM authentication tag size in bytes (128-bit tag).
	TagSize = 16

	// EncryptedPrefix marks encrypted values so stored blobs are
	// self-describing.
	EncryptedPrefix = "enc:v1:"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be exactly 32 bytes")

	// ErrDecryptionFailed is returned when authentication or decryption fails.
	// Callers must not distinguish the two cases to clients.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNoEncryptionKey is returned when no key is configured.
	ErrNoEncryptionKey = errors.New("no encryption key configured")

	// ErrInvalidCiphertext is returned for malformed ciphertext packaging.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
)

// Encryptor performs AES-256-GCM encryption and decryption.
// Safe for concurrent use; cipher.AEAD implementations are thread-safe.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an Encryptor from a raw 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// NewEncryptorFromBase64Key creates an Encryptor from a base64-encoded key,
// the form keys take in configuration.
func NewEncryptorFromBase64Key(base64Key string) (*Encryptor, error) {
	if base64Key == "" {
		return nil, ErrNoEncryptionKey
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	return NewEncryptor(key)
}

// Seal encrypts plaintext bytes and returns the raw packaged ciphertext:
// nonce (12 bytes) || ciphertext || tag (16 bytes). The fixed-width segments
// make decryption independent of any external bookkeeping.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a packaged ciphertext produced by Seal.
func (e *Encryptor) Open(packed []byte) ([]byte, error) {
	if len(packed) < NonceSize+TagSize+1 {
		return nil, ErrInvalidCiphertext
	}
	nonce, data := packed[:NonceSize], packed[NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Encrypt encrypts a string and returns a prefixed, base64-encoded blob
// suitable for column storage.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	packed, err := e.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are rejected: a key
// stored before encrypted-reveal support has no recoverable plaintext.
func (e *Encryptor) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", ErrInvalidCiphertext
	}
	if !IsEncrypted(blob) {
		return "", ErrInvalidCiphertext
	}
	packed, err := base64.StdEncoding.DecodeString(blob[len(EncryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	plaintext, err := e.Open(packed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return len(value) > len(EncryptedPrefix) && value[:len(EncryptedPrefix)] == EncryptedPrefix
}

// GenerateKey generates a random 32-byte encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateKeyBase64 generates a random key encoded for configuration files.
func GenerateKeyBase64() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
