package secret

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *ShareTokenCodec {
	t.Helper()
	return NewShareTokenCodec(newTestEncryptor(t))
}

func TestShareTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tokenStr, payload, err := codec.Issue("req-1", "user-1", "tenant-1", "comparison", now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tokenStr, ShareTokenPrefix))
	assert.Equal(t, now.Add(ShareTokenTTL), payload.ExpiresAt)

	got, err := codec.Open(tokenStr, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "comparison", got.ResultType)
	assert.Equal(t, payload.Nonce, got.Nonce)
}

func TestShareTokenExpiryIsSelfEncoded(t *testing.T) {
	codec := newTestCodec(t)
	issued := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	tokenStr, _, err := codec.Issue("req-1", "user-1", "tenant-1", "search", issued)
	require.NoError(t, err)

	// Valid one nanosecond before the boundary.
	_, err = codec.Open(tokenStr, issued.Add(ShareTokenTTL-time.Nanosecond))
	assert.NoError(t, err)

	// Rejected at exactly issuedAt + 24h, with no store involved.
	_, err = codec.Open(tokenStr, issued.Add(ShareTokenTTL))
	assert.ErrorIs(t, err, ErrShareTokenExpired)

	_, err = codec.Open(tokenStr, issued.Add(ShareTokenTTL+time.Hour))
	assert.ErrorIs(t, err, ErrShareTokenExpired)
}

func TestShareTokenUniquePerIssue(t *testing.T) {
	codec := newTestCodec(t)
	now := time.Now().UTC()

	a, _, err := codec.Issue("req-1", "u", "t", "comparison", now)
	require.NoError(t, err)
	b, _, err := codec.Issue("req-1", "u", "t", "comparison", now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t)
	now := time.Now().UTC()

	for _, tok := range []string{"", "fs_", "fs_%%%", "wrongprefix_abc", "fs_" + strings.Repeat("A", 40)} {
		_, err := codec.Open(tok, now)
		assert.ErrorIs(t, err, ErrShareTokenInvalid, "token %q", tok)
	}
}

func TestOpenRejectsForeignKey(t *testing.T) {
	a := newTestCodec(t)
	b := newTestCodec(t)
	now := time.Now().UTC()

	tokenStr, _, err := a.Issue("req-1", "u", "t", "batch", now)
	require.NoError(t, err)

	_, err = b.Open(tokenStr, now)
	assert.ErrorIs(t, err, ErrShareTokenInvalid)
}

func TestTokenDigest(t *testing.T) {
	d1 := TokenDigest("fs_abc")
	d2 := TokenDigest("fs_abc")
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
	assert.NotEqual(t, d1, TokenDigest("fs_abd"))
}
