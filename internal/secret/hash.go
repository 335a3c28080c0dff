package secret

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// HashPrefix marks bcrypt storage hashes.
	HashPrefix = "hash:v1:"

	// DefaultBcryptCost balances verification latency against brute-force
	// resistance for high-entropy generated secrets.
	DefaultBcryptCost = 10
)

var (
	// ErrHashMismatch is returned when a secret does not match its stored hash.
	ErrHashMismatch = errors.New("hash does not match")
)

// Hasher provides the two hash roles for API keys: a deterministic SHA-256
// lookup key for O(1) authentication, and a bcrypt storage hash verified
// after lookup.
type Hasher struct {
	bcryptCost int
}

// NewHasher creates a Hasher with the default bcrypt cost.
func NewHasher() *Hasher {
	return &Hasher{bcryptCost: DefaultBcryptCost}
}

// NewHasherWithCost creates a Hasher with a custom bcrypt cost.
func NewHasherWithCost(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{bcryptCost: cost}, nil
}

// LookupKey returns the deterministic SHA-256 hex digest used as the
// database index for a secret. The raw secret is never stored.
func (h *Hasher) LookupKey(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// StorageHash returns a bcrypt hash of the secret for verification after
// lookup. Secrets longer than bcrypt's 72-byte input limit are pre-hashed
// with SHA-256.
func (h *Hasher) StorageHash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}
	input := bcryptInput(secret)
	hash, err := bcrypt.GenerateFromPassword(input, h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return HashPrefix + string(hash), nil
}

// Verify compares a plaintext secret against a stored hash. Unprefixed
// stored values fall back to a constant-time comparison.
func (h *Hasher) Verify(secret, stored string) error {
	if secret == "" || stored == "" {
		return ErrHashMismatch
	}

	if !IsHashed(stored) {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(stored)) == 1 {
			return nil
		}
		return ErrHashMismatch
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored[len(HashPrefix):]), bcryptInput(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrHashMismatch
		}
		return fmt.Errorf("failed to verify secret: %w", err)
	}
	return nil
}

// IsHashed reports whether a stored value carries the storage-hash prefix.
func IsHashed(value string) bool {
	return len(value) > len(HashPrefix) && value[:len(HashPrefix)] == HashPrefix
}

func bcryptInput(secret string) []byte {
	input := []byte(secret)
	if len(input) > 72 {
		sum := sha256.Sum256(input)
		input = sum[:]
	}
	return input
}
