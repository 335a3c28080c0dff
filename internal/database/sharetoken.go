package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateShareToken persists the digest-only record of an issued token.
func (d *DB) CreateShareToken(ctx context.Context, t ShareToken) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO share_tokens (digest, request_id, tenant_id, user_id, result_type,
			issued_at, expires_at, access_count, last_accessed_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.Digest, t.RequestID, t.TenantID, t.UserID, t.ResultType,
		t.IssuedAt, t.ExpiresAt, t.AccessCount, t.LastAccessedAt, t.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert share token: %w", err)
	}
	return nil
}

// GetShareToken retrieves a share token record by digest.
func (d *DB) GetShareToken(ctx context.Context, digest string) (ShareToken, error) {
	var t ShareToken
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT digest, request_id, tenant_id, user_id, result_type,
			issued_at, expires_at, access_count, last_accessed_at, revoked_at
		FROM share_tokens WHERE digest = ?`), digest).
		Scan(&t.Digest, &t.RequestID, &t.TenantID, &t.UserID, &t.ResultType,
			&t.IssuedAt, &t.ExpiresAt, &t.AccessCount, &t.LastAccessedAt, &t.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ShareToken{}, ErrNotFound
	}
	if err != nil {
		return ShareToken{}, fmt.Errorf("failed to get share token: %w", err)
	}
	return t, nil
}

// RecordShareTokenAccess bumps the access counter and timestamp for a
// successful redemption.
func (d *DB) RecordShareTokenAccess(ctx context.Context, digest string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE share_tokens SET access_count = access_count + 1, last_accessed_at = ?
		WHERE digest = ?`), at, digest)
	if err != nil {
		return fmt.Errorf("failed to record share token access: %w", err)
	}
	return requireRow(res)
}

// RevokeShareToken marks a token revoked before its natural expiry.
func (d *DB) RevokeShareToken(ctx context.Context, digest string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE share_tokens SET revoked_at = ? WHERE digest = ? AND revoked_at IS NULL`),
		at, digest)
	if err != nil {
		return fmt.Errorf("failed to revoke share token: %w", err)
	}
	return requireRow(res)
}

// DeleteExpiredShareTokens removes records whose expiry is past. Redemption
// never depends on this; it only keeps the table from growing forever.
func (d *DB) DeleteExpiredShareTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.q(`DELETE FROM share_tokens WHERE expires_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired share tokens: %w", err)
	}
	return res.RowsAffected()
}
