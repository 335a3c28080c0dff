package quota

import (
	"context"
	"net/http"
	"time"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/plan"
)

// TenantStore is the read side of tenant records needed by the guards.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (database.Tenant, error)
}

// Guard bundles both request guards for the HTTP layer: rate limit first,
// then subscription and usage. Rejection happens before any upstream work.
type Guard struct {
	limiter *RateLimiter
	usage   *UsageGuard
	tenants TenantStore
}

// NewGuard creates the combined guard.
func NewGuard(limiter *RateLimiter, usage *UsageGuard, tenants TenantStore) *Guard {
	return &Guard{limiter: limiter, usage: usage, tenants: tenants}
}

// RateLimitOnly guards an endpoint family with rate ceilings but without
// usage accounting. Status-poll endpoints use this: polling is throttled
// but never consumes plan quota.
func (g *Guard) RateLimitOnly(family Family) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := middleware.GetIdentity(r.Context())
			if !ok {
				apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "authentication required"))
				return
			}
			if err := g.limiter.Allow(r.Context(), family, id.TenantID, middleware.ClientIP(r), time.Now()); err != nil {
				apierror.Write(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware guards one endpoint family/feature pair. It expects the
// caller identity to already be in the request context.
func (g *Guard) Middleware(family Family, feature plan.Feature) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := middleware.GetIdentity(r.Context())
			if !ok {
				apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "authentication required"))
				return
			}
			now := time.Now()

			if err := g.limiter.Allow(r.Context(), family, id.TenantID, middleware.ClientIP(r), now); err != nil {
				apierror.Write(w, err)
				return
			}

			tenant, err := g.tenants.GetTenant(r.Context(), id.TenantID)
			if err != nil {
				apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "authentication required").WithCause(err))
				return
			}
			if err := g.usage.Check(r.Context(), tenant, feature, now); err != nil {
				apierror.Write(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
