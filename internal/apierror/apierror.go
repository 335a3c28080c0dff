// Package apierror defines the machine-readable error taxonomy shared by all
// request-serving components. Every rejection carries a stable code, a
// human-readable message, and an HTTP status so the thin transport layer can
// render it without inspecting component internals.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindValidation covers malformed or missing input; client-correctable.
	KindValidation Kind = "validation"
	// KindDomain covers conditions like "no face detected" where the client
	// should adjust input rather than retry identically.
	KindDomain Kind = "domain"
	// KindEntitlement covers rate-limit, quota, feature, and subscription
	// rejections issued before any upstream work.
	KindEntitlement Kind = "entitlement"
	// KindUpstream covers transport failures and timeouts talking to the
	// recognition engine; retryable, surfaced as server errors.
	KindUpstream Kind = "upstream"
	// KindSecurity covers invalid or expired credentials and decryption
	// failures; surfaced with minimal detail.
	KindSecurity Kind = "security"
)

// Error is a machine-readable API error.
type Error struct {
	Kind    Kind           `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair for client self-diagnosis
// (e.g. numeric limits on quota rejections).
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error without changing the client-visible fields.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New creates an Error with an explicit kind, code, message and HTTP status.
func New(kind Kind, code, message string, status int) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Status: status}
}

// Validation creates a 400 validation error.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message, http.StatusBadRequest)
}

// Domain creates a 422 domain error.
func Domain(code, message string) *Error {
	return New(KindDomain, code, message, http.StatusUnprocessableEntity)
}

// Entitlement creates an entitlement error with the given status
// (402/403/429 depending on the guard that rejected).
func Entitlement(code, message string, status int) *Error {
	return New(KindEntitlement, code, message, status)
}

// Upstream creates a 502 upstream error.
func Upstream(code, message string) *Error {
	return New(KindUpstream, code, message, http.StatusBadGateway)
}

// Security creates a 401 security error. Messages are intentionally terse to
// avoid oracle leakage.
func Security(code, message string) *Error {
	return New(KindSecurity, code, message, http.StatusUnauthorized)
}

// AsError extracts an *Error from err, or nil if err is not one.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// StatusOf returns the HTTP status for err, defaulting to 500 for errors
// outside the taxonomy.
func StatusOf(err error) int {
	if apiErr := AsError(err); apiErr != nil {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// Stable error codes used across components.
const (
	CodeRateLimited         = "rate_limited"
	CodeQuotaExceeded       = "quota_exceeded"
	CodeFeatureNotAvailable = "feature_not_available"
	CodeSubscriptionState   = "subscription_inactive"
	CodeTrialExpired        = "trial_expired"
	CodeNoFaceDetected      = "no_face_detected"
	CodeUpstreamFailure     = "upstream_failure"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeTokenExpired        = "token_expired"
	CodeKeyLimitReached     = "key_limit_reached"
	CodeInvalidInput        = "invalid_input"
)
