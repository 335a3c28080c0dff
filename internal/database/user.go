package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a new user.
func (d *DB) CreateUser(ctx context.Context, u User) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO users (id, tenant_id, external_id, email, system_role,
			is_suspended, suspended_reason, suspended_at,
			is_banned, banned_reason, banned_at, signup_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.TenantID, u.ExternalID, u.Email, u.SystemRole,
		u.IsSuspended, nullStr(u.SuspendedReason), u.SuspendedAt,
		u.IsBanned, nullStr(u.BannedReason), u.BannedAt, nullStr(u.SignupIP), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (d *DB) GetUser(ctx context.Context, id string) (User, error) {
	return d.getUserWhere(ctx, "id = ?", id)
}

// GetUserByExternalID retrieves a user by the external identity provider ID.
func (d *DB) GetUserByExternalID(ctx context.Context, externalID string) (User, error) {
	return d.getUserWhere(ctx, "external_id = ?", externalID)
}

func (d *DB) getUserWhere(ctx context.Context, where string, arg any) (User, error) {
	var (
		u                               User
		suspendedReason, bannedReason   sql.NullString
		signupIP                        sql.NullString
	)
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id, tenant_id, external_id, email, system_role,
			is_suspended, suspended_reason, suspended_at,
			is_banned, banned_reason, banned_at, signup_ip, created_at
		FROM users WHERE `+where), arg).
		Scan(&u.ID, &u.TenantID, &u.ExternalID, &u.Email, &u.SystemRole,
			&u.IsSuspended, &suspendedReason, &u.SuspendedAt,
			&u.IsBanned, &bannedReason, &u.BannedAt, &signupIP, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.SuspendedReason = suspendedReason.String
	u.BannedReason = bannedReason.String
	u.SignupIP = signupIP.String
	return u, nil
}

// SetUserSuspension updates the suspension state of a user.
func (d *DB) SetUserSuspension(ctx context.Context, id string, suspended bool, reason string) error {
	var at *time.Time
	if suspended {
		now := time.Now().UTC()
		at = &now
	}
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE users SET is_suspended = ?, suspended_reason = ?, suspended_at = ? WHERE id = ?`),
		suspended, nullStr(reason), at, id)
	if err != nil {
		return fmt.Errorf("failed to update suspension: %w", err)
	}
	return requireRow(res)
}

// SetUserBan updates the ban state of a user.
func (d *DB) SetUserBan(ctx context.Context, id string, banned bool, reason string) error {
	var at *time.Time
	if banned {
		now := time.Now().UTC()
		at = &now
	}
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE users SET is_banned = ?, banned_reason = ?, banned_at = ? WHERE id = ?`),
		banned, nullStr(reason), at, id)
	if err != nil {
		return fmt.Errorf("failed to update ban: %w", err)
	}
	return requireRow(res)
}

// SetUserSystemRole changes a user's system role.
func (d *DB) SetUserSystemRole(ctx context.Context, id, role string) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE users SET system_role = ? WHERE id = ?`), role, id)
	if err != nil {
		return fmt.Errorf("failed to update system role: %w", err)
	}
	return requireRow(res)
}

// SignupIPCount is one row of the shared-signup-IP aggregation.
type SignupIPCount struct {
	IP    string
	Count int
}

// CountSignupsByIP returns signup IPs that appear more than minCount times
// since the given time. Bounded by limit; used by the abuse scanner.
func (d *DB) CountSignupsByIP(ctx context.Context, since time.Time, minCount, limit int) ([]SignupIPCount, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT signup_ip, COUNT(*) AS n FROM users
		WHERE created_at >= ? AND signup_ip IS NOT NULL AND signup_ip != ''
		GROUP BY signup_ip HAVING COUNT(*) > ?
		ORDER BY n DESC LIMIT ?`), since, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate signup IPs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SignupIPCount
	for rows.Next() {
		var c SignupIPCount
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan signup IP row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListUsersBySignupIP returns the users who signed up from ip since the
// given time, bounded by limit.
func (d *DB) ListUsersBySignupIP(ctx context.Context, ip string, since time.Time, limit int) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, tenant_id, external_id, email, system_role,
			is_suspended, suspended_reason, suspended_at,
			is_banned, banned_reason, banned_at, signup_ip, created_at
		FROM users WHERE signup_ip = ? AND created_at >= ? LIMIT ?`), ip, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by signup IP: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var (
			u                             User
			suspendedReason, bannedReason sql.NullString
			signupIP                      sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.TenantID, &u.ExternalID, &u.Email, &u.SystemRole,
			&u.IsSuspended, &suspendedReason, &u.SuspendedAt,
			&u.IsBanned, &bannedReason, &u.BannedAt, &signupIP, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.SuspendedReason = suspendedReason.String
		u.BannedReason = bannedReason.String
		u.SignupIP = signupIP.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
