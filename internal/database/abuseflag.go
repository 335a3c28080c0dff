package database

import (
	"context"
	"fmt"
	"time"
)

// CreateAbuseFlag inserts a new flag.
func (d *DB) CreateAbuseFlag(ctx context.Context, f AbuseFlag) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO abuse_flags (id, user_id, tenant_id, reason, severity, resolved, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.UserID, nullStr(f.TenantID), f.Reason, f.Severity, f.Resolved, f.ResolvedAt, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert abuse flag: %w", err)
	}
	return nil
}

// HasRecentAbuseFlag reports whether a flag with the same (user, reason)
// pair exists since the given time. This is the dedup check for the scanner.
func (d *DB) HasRecentAbuseFlag(ctx context.Context, userID, reason string, since time.Time) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT COUNT(*) FROM abuse_flags
		WHERE user_id = ? AND reason = ? AND created_at >= ?`),
		userID, reason, since).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent abuse flags: %w", err)
	}
	return count > 0, nil
}

// ResolveAbuseFlag marks a flag resolved.
func (d *DB) ResolveAbuseFlag(ctx context.Context, id string, at time.Time) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE abuse_flags SET resolved = TRUE, resolved_at = ? WHERE id = ? AND resolved = FALSE`),
		at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve abuse flag: %w", err)
	}
	return requireRow(res)
}

// ListOpenAbuseFlags returns unresolved flags, newest first.
func (d *DB) ListOpenAbuseFlags(ctx context.Context, limit int) ([]AbuseFlag, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, user_id, COALESCE(tenant_id, ''), reason, severity, resolved, resolved_at, created_at
		FROM abuse_flags WHERE resolved = FALSE ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list abuse flags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flags []AbuseFlag
	for rows.Next() {
		var f AbuseFlag
		if err := rows.Scan(&f.ID, &f.UserID, &f.TenantID, &f.Reason, &f.Severity, &f.Resolved, &f.ResolvedAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan abuse flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
