package quota

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/plan"
)

// Subscription states a request is allowed to proceed under.
const (
	StatusTrial     = "TRIAL"
	StatusActive    = "ACTIVE"
	StatusPastDue   = "PAST_DUE"
	StatusSuspended = "SUSPENDED"
	StatusCanceled  = "CANCELED"
)

// UsageGuard checks subscription health, feature entitlement, and daily or
// monthly usage quotas. All checks run before any upstream work.
type UsageGuard struct {
	store   counter.Client
	catalog *plan.Catalog
	logger  *zap.Logger
}

// NewUsageGuard creates a usage guard over the counter store and plan catalog.
func NewUsageGuard(store counter.Client, catalog *plan.Catalog, logger *zap.Logger) *UsageGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageGuard{store: store, catalog: catalog, logger: logger}
}

// Check validates the tenant's subscription and entitlement, then counts
// the request against its quota bucket. A plan limit of exactly zero means
// unlimited and skips counting entirely.
func (g *UsageGuard) Check(ctx context.Context, tenant database.Tenant, feature plan.Feature, now time.Time) error {
	switch tenant.Status {
	case StatusTrial:
		if tenant.TrialEndsAt != nil && now.After(*tenant.TrialEndsAt) {
			return apierror.Entitlement(apierror.CodeTrialExpired, "trial period has expired", http.StatusPaymentRequired)
		}
	case StatusActive:
		// proceed
	default:
		return apierror.Entitlement(apierror.CodeSubscriptionState, "subscription is not active", http.StatusForbidden).
			WithDetail("status", tenant.Status)
	}

	p, err := g.catalog.Get(tenant.PlanCode)
	if err != nil {
		g.logger.Error("tenant references unknown plan",
			zap.String("tenant_id", tenant.ID), zap.String("plan_code", tenant.PlanCode))
		return apierror.Entitlement(apierror.CodeSubscriptionState, "subscription is not active", http.StatusForbidden).
			WithCause(err)
	}
	if !p.Entitled(feature) {
		return apierror.Entitlement(apierror.CodeFeatureNotAvailable, "feature not available on current plan", http.StatusForbidden).
			WithDetail("feature", string(feature)).
			WithDetail("plan", p.Label)
	}

	if feature == plan.FeatureVideo {
		return g.countAgainst(ctx, monthlyVideoKey(tenant.ID, now), p.VideosPerMonth, untilNextMonth(now), "monthly video")
	}

	// Track the monthly aggregate for reporting and abuse scanning before
	// the enforced daily counter.
	g.trackMonthly(ctx, tenant.ID, now)

	return g.countAgainst(ctx, dailyUsageKey(tenant.ID, feature, now), p.RequestsPerDay, untilNextUTCMidnight(now), "daily request")
}

func (g *UsageGuard) countAgainst(ctx context.Context, key string, limit int, ttl time.Duration, label string) error {
	if limit == 0 {
		return nil
	}
	count, err := g.store.Incr(ctx, key)
	if err != nil {
		g.logger.Error("counter store unreachable, failing closed", zap.String("key", key), zap.Error(err))
		return apierror.New(apierror.KindUpstream, apierror.CodeUpstreamFailure,
			"service temporarily unavailable", http.StatusServiceUnavailable).WithCause(err)
	}
	if count == 1 {
		if err := g.store.Expire(ctx, key, ttl); err != nil {
			g.logger.Warn("failed to set usage TTL", zap.String("key", key), zap.Error(err))
		}
	}
	if count > int64(limit) {
		return apierror.Entitlement(apierror.CodeQuotaExceeded, label+" quota exceeded", http.StatusTooManyRequests).
			WithDetail("limit", limit).
			WithDetail("current", count)
	}
	return nil
}

// trackMonthly bumps the aggregate monthly counter. It is informational
// only, so failures are logged and swallowed.
func (g *UsageGuard) trackMonthly(ctx context.Context, tenantID string, now time.Time) {
	key := monthlyUsageKey(tenantID, now)
	count, err := g.store.Incr(ctx, key)
	if err != nil {
		g.logger.Warn("failed to track monthly usage", zap.String("key", key), zap.Error(err))
		return
	}
	if count == 1 {
		if err := g.store.Expire(ctx, key, untilNextMonth(now)); err != nil {
			g.logger.Warn("failed to set monthly usage TTL", zap.String("key", key), zap.Error(err))
		}
	}
}
