package database

import (
	"time"
)

// Tenant is the billing and quota unit. Tenants are never hard-deleted;
// lifecycle is expressed through Status alone.
type Tenant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PlanCode    string     `json:"plan_code"`
	Status      string     `json:"status"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// User is an external identity bound to exactly one tenant.
type User struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	ExternalID      string     `json:"external_id"`
	Email           string     `json:"email"`
	SystemRole      string     `json:"system_role"` // normal, admin, super_admin
	IsSuspended     bool       `json:"is_suspended"`
	SuspendedReason string     `json:"suspended_reason,omitempty"`
	SuspendedAt     *time.Time `json:"suspended_at,omitempty"`
	IsBanned        bool       `json:"is_banned"`
	BannedReason    string     `json:"banned_reason,omitempty"`
	BannedAt        *time.Time `json:"banned_at,omitempty"`
	SignupIP        string     `json:"signup_ip,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// APIKey stores only derived forms of the secret: a SHA-256 lookup key, a
// bcrypt storage hash, and an AES-GCM encrypted copy for reveal. The raw
// secret is never persisted.
type APIKey struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	KeyPrefix    string     `json:"key_prefix"`
	LookupKey    string     `json:"-"`
	StorageHash  string     `json:"-"`
	EncryptedKey string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsExpired reports whether the key's expiry has passed.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// IsActive reports whether the key is neither revoked nor expired.
func (k *APIKey) IsActive() bool {
	return k.RevokedAt == nil && !k.IsExpired()
}

// ShareToken persists only the SHA-256 digest of an issued token; validity
// beyond existence is decided from the token's self-encoded payload.
type ShareToken struct {
	Digest         string     `json:"-"`
	RequestID      string     `json:"request_id"`
	TenantID       string     `json:"tenant_id"`
	UserID         string     `json:"user_id"`
	ResultType     string     `json:"result_type"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// AbuseFlag records a suspicion of misuse. Resolved is set only by admin
// action; creation is deduplicated per (UserID, Reason) over 24h.
type AbuseFlag struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TenantID   string     `json:"tenant_id,omitempty"`
	Reason     string     `json:"reason"`
	Severity   string     `json:"severity"` // LOW, MEDIUM, HIGH, CRITICAL
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEvent is one immutable row in the audit trail.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	Status    int       `json:"status,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Metadata  string    `json:"metadata,omitempty"` // JSON blob
}
