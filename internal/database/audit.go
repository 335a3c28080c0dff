package database

import (
	"context"
	"fmt"
	"time"
)

// InsertAuditEvent appends one row to the audit trail. Rows are immutable;
// there is no update or delete path.
func (d *DB) InsertAuditEvent(ctx context.Context, e AuditEvent) error {
	_, err := d.db.ExecContext(ctx, d.q(`
		INSERT INTO audit_events (id, timestamp, action, actor, tenant_id, user_id,
			client_ip, method, path, status, user_agent, outcome, detail, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Timestamp, e.Action, e.Actor, nullStr(e.TenantID), nullStr(e.UserID),
		nullStr(e.ClientIP), nullStr(e.Method), nullStr(e.Path), e.Status,
		nullStr(e.UserAgent), e.Outcome, nullStr(e.Detail), nullStr(e.Metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent events, optionally filtered by
// tenant.
func (d *DB) ListAuditEvents(ctx context.Context, tenantID string, limit int) ([]AuditEvent, error) {
	query := `
		SELECT id, timestamp, action, actor, COALESCE(tenant_id, ''), COALESCE(user_id, ''),
			COALESCE(client_ip, ''), COALESCE(method, ''), COALESCE(path, ''), status,
			COALESCE(user_agent, ''), outcome, COALESCE(detail, ''), COALESCE(metadata, '')
		FROM audit_events`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Actor, &e.TenantID, &e.UserID,
			&e.ClientIP, &e.Method, &e.Path, &e.Status,
			&e.UserAgent, &e.Outcome, &e.Detail, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UserCount is one row of a per-user audit aggregation.
type UserCount struct {
	UserID string
	Count  int
}

// CountClientErrorsByUser aggregates 4xx responses on recognition paths per
// user since the given time. Users below minCount are excluded.
func (d *DB) CountClientErrorsByUser(ctx context.Context, since time.Time, minCount, limit int) ([]UserCount, error) {
	return d.countAuditByUser(ctx, `
		SELECT user_id, COUNT(*) AS n FROM audit_events
		WHERE timestamp >= ? AND user_id IS NOT NULL
			AND status >= 400 AND status < 500 AND path LIKE '/v1/%'
		GROUP BY user_id HAVING COUNT(*) > ?
		ORDER BY n DESC LIMIT ?`, since, minCount, limit)
}

// CountRateLimitHitsByUser aggregates 429 responses per user since the
// given time. Users below minCount are excluded.
func (d *DB) CountRateLimitHitsByUser(ctx context.Context, since time.Time, minCount, limit int) ([]UserCount, error) {
	return d.countAuditByUser(ctx, `
		SELECT user_id, COUNT(*) AS n FROM audit_events
		WHERE timestamp >= ? AND user_id IS NOT NULL AND status = 429
		GROUP BY user_id HAVING COUNT(*) > ?
		ORDER BY n DESC LIMIT ?`, since, minCount, limit)
}

func (d *DB) countAuditByUser(ctx context.Context, query string, since time.Time, minCount, limit int) ([]UserCount, error) {
	rows, err := d.db.QueryContext(ctx, d.q(query), since, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UserCount
	for rows.Next() {
		var c UserCount
		if err := rows.Scan(&c.UserID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit aggregation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
