package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/secret"
)

func newTestManager(t *testing.T) (*Manager, *database.DB) {
	t.Helper()
	db, err := database.NewSQLite(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key, err := secret.GenerateKey()
	require.NoError(t, err)
	enc, err := secret.NewEncryptor(key)
	require.NoError(t, err)
	hasher, err := secret.NewHasherWithCost(bcrypt.MinCost)
	require.NoError(t, err)

	m := NewManager(db, hasher, enc, plan.DefaultCatalog(), nil, zap.NewNop())
	return m, db
}

func seedTenantAndUser(t *testing.T, db *database.DB, planCode string) (database.Tenant, database.User) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	tenant := database.Tenant{
		ID: uuid.NewString(), Name: "acme", PlanCode: planCode, Status: "ACTIVE",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateTenant(ctx, tenant))
	user := database.User{
		ID: uuid.NewString(), TenantID: tenant.ID, ExternalID: uuid.NewString(),
		Email: "dev@example.com", SystemRole: "normal", CreatedAt: now,
	}
	require.NoError(t, db.CreateUser(ctx, user))
	return tenant, user
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{
		TenantID: tenant.ID, UserID: user.ID, Name: "ci pipeline", Expiry: "90d",
	}, RequestMeta{Actor: user.ID})
	require.NoError(t, err)

	assert.True(t, secret.ValidAPIKeyFormat(created.Secret))
	assert.Equal(t, created.Secret[:secret.DisplayPrefixLen], created.Key.KeyPrefix)
	require.NotNil(t, created.Key.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(90*24*time.Hour), *created.Key.ExpiresAt, time.Minute)

	// The raw secret is never persisted.
	stored, err := db.GetAPIKey(context.Background(), tenant.ID, created.Key.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.StorageHash, created.Secret)
	assert.NotEqual(t, created.Secret, stored.EncryptedKey)
	assert.True(t, secret.IsEncrypted(stored.EncryptedKey))
}

func TestCreateNameValidation(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	_, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "  "}, RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidInput, apierror.AsError(err).Code)

	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: string(long)}, RequestMeta{})
	require.Error(t, err)
}

func TestCreateExpiryVocabulary(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "ENTERPRISE")

	// "never" yields no expiry.
	created, err := m.Create(context.Background(), CreateParams{
		TenantID: tenant.ID, UserID: user.ID, Name: "forever", Expiry: "never",
	}, RequestMeta{})
	require.NoError(t, err)
	assert.Nil(t, created.Key.ExpiresAt)

	// A future RFC3339 date is accepted.
	future := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	created, err = m.Create(context.Background(), CreateParams{
		TenantID: tenant.ID, UserID: user.ID, Name: "dated", Expiry: future,
	}, RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, created.Key.ExpiresAt)

	// Past dates and garbage are rejected.
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	_, err = m.Create(context.Background(), CreateParams{
		TenantID: tenant.ID, UserID: user.ID, Name: "stale", Expiry: past,
	}, RequestMeta{})
	require.Error(t, err)

	_, err = m.Create(context.Background(), CreateParams{
		TenantID: tenant.ID, UserID: user.ID, Name: "bad", Expiry: "soonish",
	}, RequestMeta{})
	require.Error(t, err)
}

func TestCreateEnforcesPlanKeyLimit(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "FREE") // FREE allows 1 key

	_, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "first"}, RequestMeta{})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "second"}, RequestMeta{})
	require.Error(t, err)
	apiErr := apierror.AsError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierror.CodeKeyLimitReached, apiErr.Code)
	assert.Equal(t, 1, apiErr.Details["limit"])
	assert.Equal(t, 1, apiErr.Details["current"])
	assert.Equal(t, "Free", apiErr.Details["plan"])
}

func TestRevokedKeyFreesPlanSlot(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "FREE")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "first"}, RequestMeta{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(context.Background(), tenant.ID, created.Key.ID, RequestMeta{}))

	_, err = m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "replacement"}, RequestMeta{})
	assert.NoError(t, err)
}

func TestListMasksSecrets(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	list, err := m.List(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Len(t, list.Keys, 1)
	assert.Equal(t, 1, list.Current)
	assert.Equal(t, 5, list.Limit)
	assert.True(t, list.Keys[0].IsActive)
	assert.NotContains(t, list.Keys[0].MaskedKey, created.Secret[secret.DisplayPrefixLen:])
	assert.Contains(t, list.Keys[0].MaskedKey, created.Key.KeyPrefix)
}

func TestRevealRoundTrip(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	raw, err := m.Reveal(context.Background(), tenant.ID, created.Key.ID, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, created.Secret, raw)
}

func TestRevealAfterRevokeFails(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(context.Background(), tenant.ID, created.Key.ID, RequestMeta{}))

	_, err = m.Reveal(context.Background(), tenant.ID, created.Key.ID, RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidCredentials, apierror.AsError(err).Code)
}

func TestRevealLegacyKeyTellsRotate(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	// A key written before encrypted storage has no recoverable plaintext.
	legacy := database.APIKey{
		ID: uuid.NewString(), TenantID: tenant.ID, UserID: user.ID, Name: "legacy",
		KeyPrefix: "fk_legacy12", LookupKey: "legacy-lookup", StorageHash: "hash:v1:x",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateAPIKey(context.Background(), legacy))

	_, err := m.Reveal(context.Background(), tenant.ID, legacy.ID, RequestMeta{})
	require.Error(t, err)
	assert.Contains(t, apierror.AsError(err).Message, "rotate")
}

func TestRevokeTwiceFails(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), tenant.ID, created.Key.ID, RequestMeta{}))
	err = m.Revoke(context.Background(), tenant.ID, created.Key.ID, RequestMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already revoked")
}

func TestAuthenticate(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	key, err := m.Authenticate(context.Background(), created.Secret)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, key.TenantID)
	assert.Equal(t, user.ID, key.UserID)
}

func TestAuthenticateRejections(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	// Malformed, unknown, and revoked keys all fail with the same terse error.
	_, err = m.Authenticate(context.Background(), "not-a-key")
	require.Error(t, err)

	unknown, err := secret.GenerateAPIKey()
	require.NoError(t, err)
	_, err = m.Authenticate(context.Background(), unknown)
	require.Error(t, err)

	require.NoError(t, m.Revoke(context.Background(), tenant.ID, created.Key.ID, RequestMeta{}))
	_, err = m.Authenticate(context.Background(), created.Secret)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeInvalidCredentials, apierror.AsError(err).Code)
}

func TestAuthenticateSuspendedUserRejected(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)
	require.NoError(t, db.SetUserSuspension(context.Background(), user.ID, true, "review"))

	_, err = m.Authenticate(context.Background(), created.Secret)
	require.Error(t, err)
}

func TestMiddlewareSetsIdentity(t *testing.T) {
	m, db := newTestManager(t)
	tenant, user := seedTenantAndUser(t, db, "PRO")

	created, err := m.Create(context.Background(), CreateParams{TenantID: tenant.ID, UserID: user.ID, Name: "k1"}, RequestMeta{})
	require.NoError(t, err)

	var got middleware.Identity
	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = middleware.GetIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/faces/compare", nil)
	req.Header.Set("Authorization", "Bearer "+created.Secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenant.ID, got.TenantID)
	assert.Equal(t, user.ID, got.UserID)
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	m, _ := newTestManager(t)
	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/faces/compare", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
