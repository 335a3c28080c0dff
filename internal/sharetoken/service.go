// Package sharetoken issues and redeems self-expiring capability tokens
// that replay a stored recognition result without re-authentication. Only
// a SHA-256 digest of each token is persisted.
package sharetoken

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/secret"
)

// Store is the persistence surface for token records.
type Store interface {
	CreateShareToken(ctx context.Context, t database.ShareToken) error
	GetShareToken(ctx context.Context, digest string) (database.ShareToken, error)
	RecordShareTokenAccess(ctx context.Context, digest string, at time.Time) error
	RevokeShareToken(ctx context.Context, digest string, at time.Time) error
}

// Service issues, validates, and revokes share tokens.
type Service struct {
	store    Store
	codec    *secret.ShareTokenCodec
	auditLog *audit.Logger
	logger   *zap.Logger
}

// NewService creates the share token service. auditLog may be nil in tests.
func NewService(store Store, codec *secret.ShareTokenCodec, auditLog *audit.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, codec: codec, auditLog: auditLog, logger: logger}
}

// Issue mints a token for a stored result and persists its digest record.
// The bearer token itself is returned once and never stored.
func (s *Service) Issue(ctx context.Context, requestID, userID, tenantID, resultType string) (string, database.ShareToken, error) {
	now := time.Now()
	token, payload, err := s.codec.Issue(requestID, userID, tenantID, resultType, now)
	if err != nil {
		return "", database.ShareToken{}, err
	}

	record := database.ShareToken{
		Digest:     secret.TokenDigest(token),
		RequestID:  payload.RequestID,
		TenantID:   payload.TenantID,
		UserID:     payload.UserID,
		ResultType: payload.ResultType,
		IssuedAt:   payload.IssuedAt,
		ExpiresAt:  payload.ExpiresAt,
	}
	if err := s.store.CreateShareToken(ctx, record); err != nil {
		return "", database.ShareToken{}, err
	}

	s.record(audit.ActionShareTokenIssue, tenantID, userID, audit.ResultSuccess, record.Digest, nil)
	return token, record, nil
}

// Validate redeems a token. The self-encoded expiry is checked before any
// store lookup; only then is the digest resolved and revocation checked.
// Successful redemption bumps the access counter but never extends expiry.
func (s *Service) Validate(ctx context.Context, token string) (database.ShareToken, error) {
	now := time.Now()

	payload, err := s.codec.Open(token, now)
	if errors.Is(err, secret.ErrShareTokenExpired) {
		return database.ShareToken{}, apierror.Security(apierror.CodeTokenExpired, "share token expired")
	}
	if err != nil {
		return database.ShareToken{}, apierror.Security(apierror.CodeInvalidCredentials, "invalid share token")
	}

	digest := secret.TokenDigest(token)
	record, err := s.store.GetShareToken(ctx, digest)
	if errors.Is(err, database.ErrNotFound) {
		return database.ShareToken{}, apierror.Security(apierror.CodeInvalidCredentials, "invalid share token")
	}
	if err != nil {
		return database.ShareToken{}, err
	}
	if record.RevokedAt != nil {
		return database.ShareToken{}, apierror.Security(apierror.CodeInvalidCredentials, "invalid share token")
	}

	// Access bookkeeping is best-effort; redemption already succeeded.
	if err := s.store.RecordShareTokenAccess(ctx, digest, now); err != nil {
		s.logger.Warn("failed to record share token access", zap.Error(err))
	} else {
		record.AccessCount++
		t := now
		record.LastAccessedAt = &t
	}

	s.record(audit.ActionShareTokenRedeem, payload.TenantID, payload.UserID, audit.ResultSuccess, digest, nil)
	return record, nil
}

// Revoke invalidates a token before its natural expiry.
func (s *Service) Revoke(ctx context.Context, digest string) error {
	record, err := s.store.GetShareToken(ctx, digest)
	if err != nil {
		return err
	}
	if err := s.store.RevokeShareToken(ctx, digest, time.Now()); err != nil {
		return err
	}
	s.record(audit.ActionShareTokenRevoke, record.TenantID, record.UserID, audit.ResultSuccess, digest, nil)
	return nil
}

func (s *Service) record(action, tenantID, userID string, result audit.ResultType, digest string, cause error) {
	if s.auditLog == nil {
		return
	}
	event := audit.NewEvent(action, audit.ActorSystem, result).
		WithTenantID(tenantID).
		WithUserID(userID).
		WithDetail("token_digest", digest).
		WithError(cause)
	s.auditLog.Record(event)
}
