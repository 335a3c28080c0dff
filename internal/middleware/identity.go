package middleware

import (
	"context"
	"sync"
)

// Identity is the authenticated caller attached to the request context by
// the API key middleware.
type Identity struct {
	TenantID string
	UserID   string
	KeyID    string
	PlanCode string
}

// identityHolder lets middleware further down the chain publish the caller
// identity back to middleware that wrapped it. Context values only flow
// inward, so the outer layer plants a mutable holder.
type identityHolder struct {
	mu  sync.Mutex
	id  Identity
	set bool
}

type identityKey struct{}

// WithIdentityHolder plants an empty identity slot in the context.
func WithIdentityHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, identityKey{}, &identityHolder{})
}

// EnsureIdentityHolder returns ctx unchanged when a slot already exists,
// otherwise a child context with a fresh slot. Lets the auth middleware
// work standalone when the observability layer is disabled.
func EnsureIdentityHolder(ctx context.Context) context.Context {
	if _, ok := ctx.Value(identityKey{}).(*identityHolder); ok {
		return ctx
	}
	return WithIdentityHolder(ctx)
}

// SetIdentity records the authenticated caller in the context's identity
// slot. It is a no-op when no slot was planted.
func SetIdentity(ctx context.Context, id Identity) {
	h, ok := ctx.Value(identityKey{}).(*identityHolder)
	if !ok {
		return
	}
	h.mu.Lock()
	h.id = id
	h.set = true
	h.mu.Unlock()
}

// GetIdentity returns the caller identity stored in the context, if set.
func GetIdentity(ctx context.Context) (Identity, bool) {
	h, ok := ctx.Value(identityKey{}).(*identityHolder)
	if !ok {
		return Identity{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.set
}
