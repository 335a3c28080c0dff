// Package apikey manages the API key lifecycle: create, list, reveal,
// revoke, and request authentication. The raw secret exists in memory only
// at creation, reveal, and authentication time; storage holds a lookup
// digest, a bcrypt hash, and an encrypted copy.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/secret"
)

// MaxNameLength bounds key names.
const MaxNameLength = 100

// expiryPresets maps the expiry vocabulary to durations. "never" is handled
// separately.
var expiryPresets = map[string]time.Duration{
	"30d":  30 * 24 * time.Hour,
	"90d":  90 * 24 * time.Hour,
	"180d": 180 * 24 * time.Hour,
	"365d": 365 * 24 * time.Hour,
}

// Store is the persistence surface the manager needs.
type Store interface {
	CreateAPIKey(ctx context.Context, k database.APIKey) error
	GetAPIKey(ctx context.Context, tenantID, id string) (database.APIKey, error)
	GetAPIKeyByLookupKey(ctx context.Context, lookupKey string) (database.APIKey, error)
	ListAPIKeysByTenant(ctx context.Context, tenantID string) ([]database.APIKey, error)
	CountActiveAPIKeys(ctx context.Context, tenantID string) (int, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
	GetTenant(ctx context.Context, id string) (database.Tenant, error)
	GetUser(ctx context.Context, id string) (database.User, error)
}

// Manager implements the key lifecycle.
type Manager struct {
	store    Store
	hasher   *secret.Hasher
	enc      *secret.Encryptor
	catalog  *plan.Catalog
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewManager creates a key lifecycle manager. auditLog may be nil in tests.
func NewManager(store Store, hasher *secret.Hasher, enc *secret.Encryptor, catalog *plan.Catalog, auditLog *audit.Logger, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		hasher:   hasher,
		enc:      enc,
		catalog:  catalog,
		auditLog: auditLog,
		logger:   logger,
	}
}

// RequestMeta carries the acting context for audit entries.
type RequestMeta struct {
	Actor     string
	ClientIP  string
	UserAgent string
}

// CreateParams are the inputs for key creation.
type CreateParams struct {
	TenantID string
	UserID   string
	Name     string
	Expiry   string // preset (30d/90d/180d/365d/never) or future RFC3339 date
}

// CreatedKey is the creation response. Secret is returned exactly once.
type CreatedKey struct {
	Key    database.APIKey
	Secret string
}

// Create validates inputs and the plan's key quantity limit, generates the
// secret, and persists its derived forms.
func (m *Manager) Create(ctx context.Context, params CreateParams, meta RequestMeta) (CreatedKey, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return CreatedKey{}, apierror.Validation(apierror.CodeInvalidInput, "key name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return CreatedKey{}, apierror.Validation(apierror.CodeInvalidInput, "key name too long").
			WithDetail("max_length", MaxNameLength)
	}

	now := time.Now().UTC()
	expiresAt, err := resolveExpiry(params.Expiry, now)
	if err != nil {
		return CreatedKey{}, err
	}

	tenant, err := m.store.GetTenant(ctx, params.TenantID)
	if err != nil {
		return CreatedKey{}, err
	}
	p, err := m.catalog.Get(tenant.PlanCode)
	if err != nil {
		return CreatedKey{}, fmt.Errorf("tenant %s references unknown plan: %w", tenant.ID, err)
	}

	if p.MaxAPIKeys > 0 {
		current, err := m.store.CountActiveAPIKeys(ctx, params.TenantID)
		if err != nil {
			return CreatedKey{}, err
		}
		if current >= p.MaxAPIKeys {
			limitErr := apierror.Entitlement(apierror.CodeKeyLimitReached, "API key limit reached for plan", http.StatusForbidden).
				WithDetail("limit", p.MaxAPIKeys).
				WithDetail("current", current).
				WithDetail("plan", p.Label)
			m.record(audit.ActionAPIKeyCreate, meta, params.TenantID, params.UserID, audit.ResultFailure, func(e *audit.Event) {
				e.WithError(limitErr)
			})
			return CreatedKey{}, limitErr
		}
	}

	rawKey, err := secret.GenerateAPIKey()
	if err != nil {
		return CreatedKey{}, err
	}
	storageHash, err := m.hasher.StorageHash(rawKey)
	if err != nil {
		return CreatedKey{}, err
	}
	encrypted, err := m.enc.Encrypt(rawKey)
	if err != nil {
		return CreatedKey{}, err
	}

	key := database.APIKey{
		ID:           uuid.NewString(),
		TenantID:     params.TenantID,
		UserID:       params.UserID,
		Name:         name,
		KeyPrefix:    secret.KeyDisplayPrefix(rawKey),
		LookupKey:    m.hasher.LookupKey(rawKey),
		StorageHash:  storageHash,
		EncryptedKey: encrypted,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return CreatedKey{}, err
	}

	m.record(audit.ActionAPIKeyCreate, meta, params.TenantID, params.UserID, audit.ResultSuccess, func(e *audit.Event) {
		e.WithDetail("key_id", key.ID).WithDetail("key_prefix", key.KeyPrefix)
	})
	return CreatedKey{Key: key, Secret: rawKey}, nil
}

// resolveExpiry maps the expiry vocabulary or a future RFC3339 date to a
// timestamp. "never" and the empty string mean no expiry.
func resolveExpiry(expiry string, now time.Time) (*time.Time, error) {
	switch expiry {
	case "", "never":
		return nil, nil
	}
	if d, ok := expiryPresets[expiry]; ok {
		t := now.Add(d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, expiry)
	if err != nil {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "invalid expiry").
			WithDetail("expiry", expiry).
			WithDetail("accepted", []string{"30d", "90d", "180d", "365d", "never", "RFC3339 date"})
	}
	if !t.After(now) {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "expiry date is in the past").
			WithDetail("expiry", expiry)
	}
	t = t.UTC()
	return &t, nil
}

// KeyInfo is one listed key with the secret masked and derived flags.
type KeyInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MaskedKey  string     `json:"masked_key"`
	IsActive   bool       `json:"is_active"`
	IsExpired  bool       `json:"is_expired"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// KeyList is the listing response including the tenant's active-count
// against the plan limit.
type KeyList struct {
	Keys    []KeyInfo `json:"keys"`
	Current int       `json:"current"`
	Limit   int       `json:"limit"` // 0 means unlimited
}

// List returns the tenant's keys with secrets masked.
func (m *Manager) List(ctx context.Context, tenantID string) (KeyList, error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return KeyList{}, err
	}
	p, err := m.catalog.Get(tenant.PlanCode)
	if err != nil {
		return KeyList{}, fmt.Errorf("tenant %s references unknown plan: %w", tenant.ID, err)
	}
	keys, err := m.store.ListAPIKeysByTenant(ctx, tenantID)
	if err != nil {
		return KeyList{}, err
	}

	out := KeyList{Limit: p.MaxAPIKeys, Keys: make([]KeyInfo, 0, len(keys))}
	for i := range keys {
		k := &keys[i]
		info := KeyInfo{
			ID:         k.ID,
			Name:       k.Name,
			MaskedKey:  secret.MaskKey(k.KeyPrefix),
			IsActive:   k.IsActive(),
			IsExpired:  k.IsExpired(),
			ExpiresAt:  k.ExpiresAt,
			RevokedAt:  k.RevokedAt,
			LastUsedAt: k.LastUsedAt,
			CreatedAt:  k.CreatedAt,
		}
		if info.IsActive {
			out.Current++
		}
		out.Keys = append(out.Keys, info)
	}
	return out, nil
}

// Reveal decrypts and returns the raw secret for a key. Revoked keys and
// keys that predate encrypted storage are rejected; the latter with an
// explicit rotation hint.
func (m *Manager) Reveal(ctx context.Context, tenantID, id string, meta RequestMeta) (string, error) {
	key, err := m.store.GetAPIKey(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if key.RevokedAt != nil {
		err := apierror.Security(apierror.CodeInvalidCredentials, "key is revoked")
		m.recordKey(audit.ActionAPIKeyReveal, meta, &key, audit.ResultFailure, err)
		return "", err
	}
	if key.EncryptedKey == "" || !secret.IsEncrypted(key.EncryptedKey) {
		err := apierror.Validation(apierror.CodeInvalidInput,
			"key predates encrypted storage and cannot be revealed; rotate it instead")
		m.recordKey(audit.ActionAPIKeyReveal, meta, &key, audit.ResultFailure, err)
		return "", err
	}
	raw, err := m.enc.Decrypt(key.EncryptedKey)
	if err != nil {
		m.recordKey(audit.ActionAPIKeyReveal, meta, &key, audit.ResultFailure, err)
		return "", apierror.Security(apierror.CodeInvalidCredentials, "key cannot be revealed").WithCause(err)
	}

	m.recordKey(audit.ActionAPIKeyReveal, meta, &key, audit.ResultSuccess, nil)
	return raw, nil
}

// Revoke terminally revokes a key. Revoking an already-revoked key is
// rejected; there is no un-revoke.
func (m *Manager) Revoke(ctx context.Context, tenantID, id string, meta RequestMeta) error {
	err := m.store.RevokeAPIKey(ctx, tenantID, id, time.Now().UTC())
	if errors.Is(err, database.ErrAlreadyRevoked) {
		apiErr := apierror.Validation(apierror.CodeInvalidInput, "key is already revoked")
		m.record(audit.ActionAPIKeyRevoke, meta, tenantID, "", audit.ResultFailure, func(e *audit.Event) {
			e.WithDetail("key_id", id).WithError(apiErr)
		})
		return apiErr
	}
	if err != nil {
		return err
	}
	m.record(audit.ActionAPIKeyRevoke, meta, tenantID, "", audit.ResultSuccess, func(e *audit.Event) {
		e.WithDetail("key_id", id)
	})
	return nil
}

func (m *Manager) record(action string, meta RequestMeta, tenantID, userID string, result audit.ResultType, fill func(*audit.Event)) {
	if m.auditLog == nil {
		return
	}
	actor := meta.Actor
	if actor == "" {
		actor = audit.ActorAnonymous
	}
	event := audit.NewEvent(action, actor, result).
		WithTenantID(tenantID).
		WithUserID(userID).
		WithClientIP(meta.ClientIP).
		WithUserAgent(meta.UserAgent)
	if fill != nil {
		fill(event)
	}
	m.auditLog.Record(event)
}

func (m *Manager) recordKey(action string, meta RequestMeta, key *database.APIKey, result audit.ResultType, cause error) {
	m.record(action, meta, key.TenantID, key.UserID, result, func(e *audit.Event) {
		e.WithDetail("key_id", key.ID).WithDetail("key_prefix", key.KeyPrefix).WithError(cause)
	})
}
