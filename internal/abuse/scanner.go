// Package abuse runs the periodic scanner that turns audit-trail and
// usage-counter anomalies into flags. The scanner is stateless and
// re-entrant: the 24h dedup rule makes concurrent or repeated passes
// idempotent.
package abuse

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/quota"
)

// Flag severities.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Flag reasons, one per signal.
const (
	ReasonExcessiveClientErrors = "EXCESSIVE_4XX"
	ReasonQuotaOverrun          = "QUOTA_OVERRUN"
	ReasonSharedSignupIP        = "SHARED_SIGNUP_IP"
	ReasonRateLimitAbuse        = "RATE_LIMIT_ABUSE"
)

// Signal thresholds over the trailing 24h window.
const (
	clientErrorThreshold  = 100
	clientErrorEscalation = 500
	signupIPThreshold     = 3
	signupIPEscalation    = 10
	rateLimitThreshold    = 20
	rateLimitEscalation   = 100
	usageWarningRatio     = 0.9
	maxAggregationRows    = 1000
	maxTenantsPerPass     = 1000
	maxUsersPerIP         = 50
)

// window is the trailing period every signal evaluates.
const window = 24 * time.Hour

// Store is the read/write persistence surface for a scan pass.
type Store interface {
	CountClientErrorsByUser(ctx context.Context, since time.Time, minCount, limit int) ([]database.UserCount, error)
	CountRateLimitHitsByUser(ctx context.Context, since time.Time, minCount, limit int) ([]database.UserCount, error)
	CountSignupsByIP(ctx context.Context, since time.Time, minCount, limit int) ([]database.SignupIPCount, error)
	ListUsersBySignupIP(ctx context.Context, ip string, since time.Time, limit int) ([]database.User, error)
	ListTenants(ctx context.Context, limit int) ([]database.Tenant, error)
	GetUser(ctx context.Context, id string) (database.User, error)
	CreateAbuseFlag(ctx context.Context, f database.AbuseFlag) error
	HasRecentAbuseFlag(ctx context.Context, userID, reason string, since time.Time) (bool, error)
}

// Scanner evaluates the four abuse signals.
type Scanner struct {
	store    Store
	counters counter.Client
	catalog  *plan.Catalog
	logger   *zap.Logger
	interval time.Duration
}

// NewScanner creates a scanner that runs every interval.
func NewScanner(store Store, counters counter.Client, catalog *plan.Catalog, logger *zap.Logger, interval time.Duration) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scanner{
		store:    store,
		counters: counters,
		catalog:  catalog,
		logger:   logger,
		interval: interval,
	}
}

// Run executes one pass immediately, then on every tick until the context
// is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.Scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan evaluates all four signals over the trailing 24h window. Each signal
// and each individual flag write is best-effort: failures are logged and the
// pass continues.
func (s *Scanner) Scan(ctx context.Context) {
	now := time.Now().UTC()
	s.logger.Debug("abuse scan pass starting")

	s.scanClientErrors(ctx, now)
	s.scanTenantUsage(ctx, now)
	s.scanSignupIPs(ctx, now)
	s.scanRateLimitHits(ctx, now)
}

func (s *Scanner) scanClientErrors(ctx context.Context, now time.Time) {
	counts, err := s.store.CountClientErrorsByUser(ctx, now.Add(-window), clientErrorThreshold, maxAggregationRows)
	if err != nil {
		s.logger.Error("client-error signal query failed", zap.Error(err))
		return
	}
	for _, c := range counts {
		severity := SeverityMedium
		if c.Count > clientErrorEscalation {
			severity = SeverityHigh
		}
		s.propose(ctx, now, c.UserID, s.tenantOf(ctx, c.UserID), ReasonExcessiveClientErrors, severity)
	}
}

func (s *Scanner) scanTenantUsage(ctx context.Context, now time.Time) {
	tenants, err := s.store.ListTenants(ctx, maxTenantsPerPass)
	if err != nil {
		s.logger.Error("tenant usage signal query failed", zap.Error(err))
		return
	}
	for _, tenant := range tenants {
		p, err := s.catalog.Get(tenant.PlanCode)
		if err != nil || p.RequestsPerMonth == 0 {
			continue
		}
		raw, err := s.counters.Get(ctx, quota.MonthlyUsageKey(tenant.ID, now))
		if err != nil {
			s.logger.Warn("failed to read monthly usage counter",
				zap.String("tenant_id", tenant.ID), zap.Error(err))
			continue
		}
		if raw == "" {
			continue
		}
		used, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ratio := float64(used) / float64(p.RequestsPerMonth)
		switch {
		case ratio >= 1.0:
			s.propose(ctx, now, tenant.ID, tenant.ID, ReasonQuotaOverrun, SeverityHigh)
		case ratio > usageWarningRatio:
			s.propose(ctx, now, tenant.ID, tenant.ID, ReasonQuotaOverrun, SeverityLow)
		}
	}
}

func (s *Scanner) scanSignupIPs(ctx context.Context, now time.Time) {
	since := now.Add(-window)
	counts, err := s.store.CountSignupsByIP(ctx, since, signupIPThreshold, maxAggregationRows)
	if err != nil {
		s.logger.Error("signup IP signal query failed", zap.Error(err))
		return
	}
	for _, c := range counts {
		severity := SeverityHigh
		if c.Count > signupIPEscalation {
			severity = SeverityCritical
		}
		users, err := s.store.ListUsersBySignupIP(ctx, c.IP, since, maxUsersPerIP)
		if err != nil {
			s.logger.Warn("failed to list users for signup IP", zap.String("ip", c.IP), zap.Error(err))
			continue
		}
		for _, u := range users {
			s.propose(ctx, now, u.ID, u.TenantID, ReasonSharedSignupIP, severity)
		}
	}
}

func (s *Scanner) scanRateLimitHits(ctx context.Context, now time.Time) {
	counts, err := s.store.CountRateLimitHitsByUser(ctx, now.Add(-window), rateLimitThreshold, maxAggregationRows)
	if err != nil {
		s.logger.Error("rate-limit signal query failed", zap.Error(err))
		return
	}
	for _, c := range counts {
		severity := SeverityMedium
		if c.Count > rateLimitEscalation {
			severity = SeverityHigh
		}
		s.propose(ctx, now, c.UserID, s.tenantOf(ctx, c.UserID), ReasonRateLimitAbuse, severity)
	}
}

// propose writes a flag unless an identical (subject, reason) flag exists
// within the window. Tenant-scoped signals use the tenant ID as the subject.
func (s *Scanner) propose(ctx context.Context, now time.Time, subjectID, tenantID, reason, severity string) {
	recent, err := s.store.HasRecentAbuseFlag(ctx, subjectID, reason, now.Add(-window))
	if err != nil {
		s.logger.Warn("flag dedup check failed",
			zap.String("subject", subjectID), zap.String("reason", reason), zap.Error(err))
		return
	}
	if recent {
		return
	}

	flag := database.AbuseFlag{
		ID:        uuid.NewString(),
		UserID:    subjectID,
		TenantID:  tenantID,
		Reason:    reason,
		Severity:  severity,
		CreatedAt: now,
	}
	if err := s.store.CreateAbuseFlag(ctx, flag); err != nil {
		s.logger.Warn("failed to write abuse flag",
			zap.String("subject", subjectID), zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Info("abuse flag created",
		zap.String("subject", subjectID),
		zap.String("reason", reason),
		zap.String("severity", severity))
}

func (s *Scanner) tenantOf(ctx context.Context, userID string) string {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.TenantID
}
