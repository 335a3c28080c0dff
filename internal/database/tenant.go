package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateTenant inserts a new tenant.
func (d *DB) CreateTenant(ctx context.Context, t Tenant) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO tenants (id, name, plan_code, status, trial_ends_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.PlanCode, t.Status, t.TrialEndsAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (d *DB) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id, name, plan_code, status, trial_ends_at, created_at, updated_at
		FROM tenants WHERE id = ?`), id).
		Scan(&t.ID, &t.Name, &t.PlanCode, &t.Status, &t.TrialEndsAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// UpdateTenantSubscription applies a subscription transition as one atomic
// write: status, plan, and trial end always move together.
func (d *DB) UpdateTenantSubscription(ctx context.Context, id, status, planCode string, trialEndsAt *time.Time) error {
	res, err := d.db.ExecContext(ctx, d.q(`
		UPDATE tenants SET status = ?, plan_code = ?, trial_ends_at = ?, updated_at = ?
		WHERE id = ?`),
		status, planCode, trialEndsAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTenants returns all tenants, most recent first. Used by the abuse
// scanner's usage signal; kept bounded by limit.
func (d *DB) ListTenants(ctx context.Context, limit int) ([]Tenant, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, name, plan_code, status, trial_ends_at, created_at, updated_at
		FROM tenants ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.PlanCode, &t.Status, &t.TrialEndsAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
