package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRevoked is returned when revoking a key that is already revoked.
// Revocation is terminal and idempotency-checked, not silently absorbed.
var ErrAlreadyRevoked = errors.New("api key already revoked")

// CreateAPIKey inserts a new API key record.
func (d *DB) CreateAPIKey(ctx context.Context, k APIKey) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO api_keys (id, tenant_id, user_id, name, key_prefix,
			lookup_key, storage_hash, encrypted_key, expires_at, revoked_at, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		k.ID, k.TenantID, k.UserID, k.Name, k.KeyPrefix,
		k.LookupKey, k.StorageHash, k.EncryptedKey, k.ExpiresAt, k.RevokedAt, k.LastUsedAt, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByLookupKey retrieves a key by its SHA-256 lookup digest.
// This is the authentication path; it is a single indexed read.
func (d *DB) GetAPIKeyByLookupKey(ctx context.Context, lookupKey string) (APIKey, error) {
	return d.getAPIKeyWhere(ctx, "lookup_key = ?", lookupKey)
}

// GetAPIKey retrieves a key by ID scoped to a tenant.
func (d *DB) GetAPIKey(ctx context.Context, tenantID, id string) (APIKey, error) {
	var k APIKey
	err := d.db.QueryRowContext(ctx, d.q(selectAPIKey+` WHERE tenant_id = ? AND id = ?`), tenantID, id).
		Scan(apiKeyFields(&k)...)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

func (d *DB) getAPIKeyWhere(ctx context.Context, where string, arg any) (APIKey, error) {
	var k APIKey
	err := d.db.QueryRowContext(ctx, d.q(selectAPIKey+` WHERE `+where), arg).
		Scan(apiKeyFields(&k)...)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

const selectAPIKey = `
	SELECT id, tenant_id, user_id, name, key_prefix,
		lookup_key, storage_hash, encrypted_key, expires_at, revoked_at, last_used_at, created_at
	FROM api_keys`

func apiKeyFields(k *APIKey) []any {
	return []any{
		&k.ID, &k.TenantID, &k.UserID, &k.Name, &k.KeyPrefix,
		&k.LookupKey, &k.StorageHash, &k.EncryptedKey, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt, &k.CreatedAt,
	}
}

// ListAPIKeysByTenant returns all keys for a tenant, newest first.
func (d *DB) ListAPIKeysByTenant(ctx context.Context, tenantID string) ([]APIKey, error) {
	rows, err := d.db.QueryContext(ctx, d.q(selectAPIKey+` WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(apiKeyFields(&k)...); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountActiveAPIKeys counts a tenant's non-revoked, non-expired keys.
// Expired keys stop counting against the plan limit without any writes.
func (d *DB) CountActiveAPIKeys(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT COUNT(*) FROM api_keys
		WHERE tenant_id = ? AND revoked_at IS NULL
			AND (expires_at IS NULL OR expires_at > ?)`),
		tenantID, time.Now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active api keys: %w", err)
	}
	return count, nil
}

// RevokeAPIKey sets the terminal revocation timestamp. The WHERE clause
// guards idempotency: a second revoke affects zero rows.
func (d *DB) RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE api_keys SET revoked_at = ? WHERE tenant_id = ? AND id = ? AND revoked_at IS NULL`),
		at, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish "missing" from "already revoked" for the caller.
		if _, getErr := d.GetAPIKey(ctx, tenantID, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyRevoked
	}
	return nil
}

// TouchAPIKeyLastUsed opportunistically updates last_used_at. Failures are
// the caller's to swallow; this is never on the critical path.
func (d *DB) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, d.q(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}
