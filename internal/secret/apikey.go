package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	// APIKeyPrefix identifies facegate API keys at a glance.
	APIKeyPrefix = "fk_"

	// apiKeyEntropyBytes is the random payload of a generated key (256 bits).
	apiKeyEntropyBytes = 32

	// DisplayPrefixLen is the number of leading characters that are safe to
	// show in listings: "fk_" plus the first 8 payload characters.
	DisplayPrefixLen = len(APIKeyPrefix) + 8
)

// GenerateAPIKey returns a new cryptographically random API key:
// "fk_" followed by 43 URL-safe base64 characters.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyEntropyBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// KeyDisplayPrefix returns the short, display-safe prefix of a raw key.
func KeyDisplayPrefix(rawKey string) string {
	if len(rawKey) <= DisplayPrefixLen {
		return rawKey
	}
	return rawKey[:DisplayPrefixLen]
}

// MaskKey renders a key as its display prefix plus a fixed placeholder,
// for listings where the secret must never appear.
func MaskKey(displayPrefix string) string {
	return displayPrefix + strings.Repeat("*", 24)
}

// ValidAPIKeyFormat performs a cheap structural check before any store
// lookup: correct prefix and a payload of the expected length and charset.
func ValidAPIKeyFormat(rawKey string) bool {
	if !strings.HasPrefix(rawKey, APIKeyPrefix) {
		return false
	}
	payload := rawKey[len(APIKeyPrefix):]
	if len(payload) != base64.RawURLEncoding.EncodedLen(apiKeyEntropyBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(payload)
	return err == nil
}
