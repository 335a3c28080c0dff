package apikey

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/secret"
)

// Authenticate resolves a raw bearer key to its record: structural check,
// O(1) lookup by digest, then bcrypt verification. Rejections carry minimal
// detail so the endpoint is not a key oracle.
func (m *Manager) Authenticate(ctx context.Context, rawKey string) (database.APIKey, error) {
	invalid := apierror.Security(apierror.CodeInvalidCredentials, "invalid API key")

	if !secret.ValidAPIKeyFormat(rawKey) {
		return database.APIKey{}, invalid
	}
	key, err := m.store.GetAPIKeyByLookupKey(ctx, m.hasher.LookupKey(rawKey))
	if errors.Is(err, database.ErrNotFound) {
		return database.APIKey{}, invalid
	}
	if err != nil {
		return database.APIKey{}, err
	}
	if err := m.hasher.Verify(rawKey, key.StorageHash); err != nil {
		return database.APIKey{}, invalid
	}
	if key.RevokedAt != nil || key.IsExpired() {
		return database.APIKey{}, invalid
	}

	user, err := m.store.GetUser(ctx, key.UserID)
	if err == nil && user.SystemRole != "super_admin" && (user.IsSuspended || user.IsBanned) {
		return database.APIKey{}, apierror.Security(apierror.CodeInvalidCredentials, "account is not in good standing")
	}

	// Opportunistic; never on the critical path.
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.TouchAPIKeyLastUsed(ctx, id, time.Now().UTC()); err != nil {
			m.logger.Debug("failed to update last_used_at", zap.String("key_id", id), zap.Error(err))
		}
	}(key.ID)

	return key, nil
}

// Middleware authenticates the Authorization bearer key and publishes the
// caller identity into the request context.
func (m *Manager) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := bearerToken(r)
			if rawKey == "" {
				apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "missing API key"))
				return
			}
			key, err := m.Authenticate(r.Context(), rawKey)
			if err != nil {
				apierror.Write(w, err)
				return
			}
			ctx := middleware.EnsureIdentityHolder(r.Context())
			middleware.SetIdentity(ctx, middleware.Identity{
				TenantID: key.TenantID,
				UserID:   key.UserID,
				KeyID:    key.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
