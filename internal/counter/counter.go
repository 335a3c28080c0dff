// Package counter provides the shared counter store used for rate limits,
// quota accounting, and cache invalidation markers. All mutation happens
// through atomic single-round-trip operations; there is no read-modify-write.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the counter store cannot be reached.
// Guards that depend on counters treat this as a fail-closed condition.
var ErrUnavailable = errors.New("counter store unavailable")

// Client is the narrow surface the rest of the system depends on.
// Implementations must make Incr atomic under concurrent access.
type Client interface {
	// Incr atomically increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on key. Best-effort follow-up to the first Incr of
	// a window; a lost race only lengthens the TTL slightly.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns the value of key, or "" if the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// DeleteByPattern removes every key matching the glob pattern.
	// Used for bulk admin usage resets; never called on the hot path.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
