package quota

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/config"
	"github.com/visagelab/facegate/internal/counter"
)

// rateWindowTTL is just over two bucket widths to tolerate clock skew.
const rateWindowTTL = 120 * time.Second

// RateLimiter enforces fixed 60-second windows per (tenant, family) and
// (client IP, family). The two ceilings are independent; exceeding either
// rejects the request.
type RateLimiter struct {
	store  counter.Client
	limits map[Family]config.FamilyLimits
	logger *zap.Logger
}

// NewRateLimiter creates a rate limiter with per-family ceilings.
func NewRateLimiter(store counter.Client, cfg *config.Config, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:  store,
		logger: logger,
		limits: map[Family]config.FamilyLimits{
			FamilyCompare:     cfg.RateCompare,
			FamilySearch:      cfg.RateSearch,
			FamilyBatch:       cfg.RateBatch,
			FamilyVideoSubmit: cfg.RateVideoSubmit,
			FamilyVideoStatus: cfg.RateVideoStatus,
		},
	}
}

// Allow checks both windows for the current minute, incrementing each
// atomically. A store failure rejects the request; limits are never
// silently bypassed.
func (l *RateLimiter) Allow(ctx context.Context, family Family, tenantID, clientIP string, now time.Time) error {
	limits := l.limits[family]

	if err := l.checkWindow(ctx, tenantRateKey(tenantID, family, now), limits.TenantPerMinute, "tenant"); err != nil {
		return err
	}
	if clientIP != "" {
		if err := l.checkWindow(ctx, ipRateKey(clientIP, family, now), limits.IPPerMinute, "ip"); err != nil {
			return err
		}
	}
	return nil
}

func (l *RateLimiter) checkWindow(ctx context.Context, key string, ceiling int, scope string) error {
	if ceiling <= 0 {
		return nil
	}
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.Error("counter store unreachable, failing closed", zap.String("key", key), zap.Error(err))
		return apierror.New(apierror.KindUpstream, apierror.CodeUpstreamFailure,
			"service temporarily unavailable", http.StatusServiceUnavailable).WithCause(err)
	}
	if count == 1 {
		// Best effort; a lost race only lengthens the TTL slightly.
		if err := l.store.Expire(ctx, key, rateWindowTTL); err != nil {
			l.logger.Warn("failed to set rate window TTL", zap.String("key", key), zap.Error(err))
		}
	}
	if count > int64(ceiling) {
		return apierror.Entitlement(apierror.CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
			WithDetail("scope", scope).
			WithDetail("limit", ceiling).
			WithDetail("current", count)
	}
	return nil
}
