// Package audit provides the immutable audit trail for security-sensitive
// operations: key lifecycle, share tokens, subscription transitions, and
// admin interventions.
package audit

import (
	"encoding/json"
	"time"
)

// Event represents a security audit event with canonical fields.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Action describes what operation was performed (e.g. "apikey.create").
	Action string `json:"action"`

	// Actor identifies who performed the action (user ID, key ID, or system).
	Actor string `json:"actor"`

	// TenantID identifies which tenant was affected (if applicable).
	TenantID string `json:"tenant_id,omitempty"`

	// UserID identifies which user was affected (if applicable).
	UserID string `json:"user_id,omitempty"`

	// ClientIP is the IP address of the client making the request.
	ClientIP string `json:"client_ip,omitempty"`

	// Method and Path tie the event back to the HTTP request.
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`

	// Status is the HTTP status of the response, when the event is tied to one.
	Status int `json:"status,omitempty"`

	// UserAgent of the client.
	UserAgent string `json:"user_agent,omitempty"`

	// Result indicates success or failure of the operation.
	Result ResultType `json:"result"`

	// Detail is a short human-readable summary (no secrets).
	Detail string `json:"detail,omitempty"`

	// Details contains additional structured context (no secrets).
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResultType represents the outcome of an audited operation.
type ResultType string

const (
	// ResultSuccess indicates the operation completed successfully.
	ResultSuccess ResultType = "success"

	// ResultFailure indicates the operation failed.
	ResultFailure ResultType = "failure"
)

// Action constants for standardized audit event types.
const (
	ActionAPIKeyCreate = "apikey.create"
	ActionAPIKeyList   = "apikey.list"
	ActionAPIKeyReveal = "apikey.reveal"
	ActionAPIKeyRevoke = "apikey.revoke"

	ActionShareTokenIssue  = "sharetoken.issue"
	ActionShareTokenRedeem = "sharetoken.redeem"
	ActionShareTokenRevoke = "sharetoken.revoke"

	ActionSubscriptionTransition = "subscription.transition"
	ActionWebhookReceived        = "webhook.received"

	ActionUserSuspend    = "user.suspend"
	ActionUserUnsuspend  = "user.unsuspend"
	ActionUserBan        = "user.ban"
	ActionUserUnban      = "user.unban"
	ActionUserRoleChange = "user.role_change"

	ActionAbuseFlagCreate  = "abuse.flag.create"
	ActionAbuseFlagResolve = "abuse.flag.resolve"

	ActionRequestCompleted = "request.completed"
)

// Actor types for common audit actors.
const (
	ActorSystem     = "system"
	ActorAnonymous  = "anonymous"
	ActorScanner    = "abuse_scanner"
	ActorManagement = "management_api"
)

// NewEvent creates a new audit event with the specified action and result.
// The timestamp is automatically set to the current time.
func NewEvent(action string, actor string, result ResultType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Result:    result,
		Details:   make(map[string]interface{}),
	}
}

// WithTenantID sets the affected tenant.
func (e *Event) WithTenantID(tenantID string) *Event {
	e.TenantID = tenantID
	return e
}

// WithUserID sets the affected user.
func (e *Event) WithUserID(userID string) *Event {
	e.UserID = userID
	return e
}

// WithClientIP sets the client IP address for the audit event.
func (e *Event) WithClientIP(clientIP string) *Event {
	e.ClientIP = clientIP
	return e
}

// WithRequest ties the event to an HTTP request.
func (e *Event) WithRequest(method, path string, status int) *Event {
	e.Method = method
	e.Path = path
	e.Status = status
	return e
}

// WithUserAgent sets the client user agent.
func (e *Event) WithUserAgent(userAgent string) *Event {
	e.UserAgent = userAgent
	return e
}

// WithDetailText sets the short summary line.
func (e *Event) WithDetailText(detail string) *Event {
	e.Detail = detail
	return e
}

// WithDetail adds a detail key-value pair to the audit event.
// Secrets must be masked before calling this method.
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithError adds error information to the audit event details.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		return e.WithDetail("error", err.Error())
	}
	return e
}

// MetadataJSON renders the structured details as a JSON blob for storage.
// An empty map renders as the empty string.
func (e *Event) MetadataJSON() string {
	if len(e.Details) == 0 {
		return ""
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return ""
	}
	return string(b)
}
