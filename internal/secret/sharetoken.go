package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// ShareTokenPrefix identifies share tokens at a glance.
	ShareTokenPrefix = "fs_"

	// ShareTokenTTL is the fixed lifetime of a share token.
	ShareTokenTTL = 24 * time.Hour
)

var (
	// ErrShareTokenExpired is returned when a token's self-encoded expiry
	// has passed. Detected before any store lookup.
	ErrShareTokenExpired = errors.New("share token expired")

	// ErrShareTokenInvalid is returned for malformed or tampered tokens.
	ErrShareTokenInvalid = errors.New("invalid share token")
)

// SharePayload is the encrypted content of a share token. The token is
// self-validating: identity and expiry travel inside the ciphertext, so a
// token can be rejected without touching the store.
type SharePayload struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id"`
	ResultType string    `json:"result_type"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Nonce      string    `json:"nonce"`
}

// ShareTokenCodec seals and opens share tokens with an Encryptor.
type ShareTokenCodec struct {
	enc *Encryptor
}

// NewShareTokenCodec creates a codec over the given encryptor.
func NewShareTokenCodec(enc *Encryptor) *ShareTokenCodec {
	return &ShareTokenCodec{enc: enc}
}

// Issue seals a payload into an opaque, URL-safe token. IssuedAt, ExpiresAt,
// and the uniqueness nonce are set here; callers supply identity only.
func (c *ShareTokenCodec) Issue(requestID, userID, tenantID, resultType string, now time.Time) (string, SharePayload, error) {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", SharePayload{}, fmt.Errorf("failed to generate token nonce: %w", err)
	}

	payload := SharePayload{
		RequestID:  requestID,
		UserID:     userID,
		TenantID:   tenantID,
		ResultType: resultType,
		IssuedAt:   now.UTC(),
		ExpiresAt:  now.UTC().Add(ShareTokenTTL),
		Nonce:      hex.EncodeToString(nonce),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", SharePayload{}, fmt.Errorf("failed to marshal share payload: %w", err)
	}
	packed, err := c.enc.Seal(raw)
	if err != nil {
		return "", SharePayload{}, err
	}

	return ShareTokenPrefix + base64.RawURLEncoding.EncodeToString(packed), payload, nil
}

// Open decrypts a token and checks its self-encoded expiry against now.
// The expiry check happens before any store lookup to avoid wasted
// round-trips on obviously-expired tokens.
func (c *ShareTokenCodec) Open(tokenStr string, now time.Time) (SharePayload, error) {
	if !strings.HasPrefix(tokenStr, ShareTokenPrefix) {
		return SharePayload{}, ErrShareTokenInvalid
	}
	packed, err := base64.RawURLEncoding.DecodeString(tokenStr[len(ShareTokenPrefix):])
	if err != nil {
		return SharePayload{}, ErrShareTokenInvalid
	}
	raw, err := c.enc.Open(packed)
	if err != nil {
		return SharePayload{}, ErrShareTokenInvalid
	}

	var payload SharePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SharePayload{}, ErrShareTokenInvalid
	}
	if !now.Before(payload.ExpiresAt) {
		return SharePayload{}, ErrShareTokenExpired
	}
	return payload, nil
}

// TokenDigest returns the SHA-256 hex digest of the full token string.
// Only this digest is persisted server-side; the bearer secret never is.
func TokenDigest(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}
