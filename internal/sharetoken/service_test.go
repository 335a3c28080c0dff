package sharetoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/secret"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	db, err := database.NewSQLite(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key, err := secret.GenerateKey()
	require.NoError(t, err)
	enc, err := secret.NewEncryptor(key)
	require.NoError(t, err)

	return NewService(db, secret.NewShareTokenCodec(enc), nil, zap.NewNop()), db
}

func TestIssueAndValidate(t *testing.T) {
	svc, db := newTestService(t)

	token, record, err := svc.Issue(context.Background(), "req-1", "u1", "t1", "compare")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 0, record.AccessCount)

	// The bearer token never appears in storage, only its digest.
	stored, err := db.GetShareToken(context.Background(), secret.TokenDigest(token))
	require.NoError(t, err)
	assert.Equal(t, "req-1", stored.RequestID)
	assert.NotEqual(t, token, stored.Digest)

	got, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)

	// Each redemption counts; expiry does not move.
	got2, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 2, got2.AccessCount)
	assert.Equal(t, got.ExpiresAt.Unix(), got2.ExpiresAt.Unix())
}

func TestValidateGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Validate(context.Background(), "fs_bogus")
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidCredentials, apierror.AsError(err).Code)

	_, err = svc.Validate(context.Background(), "no-prefix-at-all")
	require.Error(t, err)
}

func TestValidateUnknownButWellFormedToken(t *testing.T) {
	svc, _ := newTestService(t)

	// A token sealed with the right key but never issued through the store
	// decrypts fine yet must be rejected at the digest lookup.
	token, _, err := svc.codec.Issue("req-x", "u1", "t1", "compare", time.Now())
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidCredentials, apierror.AsError(err).Code)
}

func TestValidateRevokedToken(t *testing.T) {
	svc, _ := newTestService(t)

	token, record, err := svc.Issue(context.Background(), "req-1", "u1", "t1", "search")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), record.Digest))

	_, err = svc.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidCredentials, apierror.AsError(err).Code)
}

func TestExpiredTokenRejectedWithoutStoreLookup(t *testing.T) {
	db, err := database.NewSQLite(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key, err := secret.GenerateKey()
	require.NoError(t, err)
	enc, err := secret.NewEncryptor(key)
	require.NoError(t, err)
	codec := secret.NewShareTokenCodec(enc)

	// Issue a token dated 24h in the past; it is expired by its own payload
	// and never reaches the store (no record exists, yet the error is
	// "expired", not "invalid").
	issued := time.Now().Add(-24 * time.Hour)
	token, _, err := codec.Issue("req-1", "u1", "t1", "compare", issued)
	require.NoError(t, err)

	svc := NewService(db, codec, nil, zap.NewNop())
	_, err = svc.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeTokenExpired, apierror.AsError(err).Code)
}
