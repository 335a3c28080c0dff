package subscription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/quota"
)

// Store is the tenant persistence needed by the service.
type Store interface {
	GetTenant(ctx context.Context, id string) (database.Tenant, error)
	UpdateTenantSubscription(ctx context.Context, id, status, planCode string, trialEndsAt *time.Time) error
}

// TransitionRequest names a target state with optional side parameters.
type TransitionRequest struct {
	Target             string
	PlanCode           string // empty keeps the current plan
	TrialExtensionDays int    // >0 sets a new trial end relative to now
	Actor              string
	ClientIP           string
}

// Service applies subscription transitions.
type Service struct {
	store            Store
	counters         counter.Client
	catalog          *plan.Catalog
	auditLog         *audit.Logger
	logger           *zap.Logger
	defaultTrialDays int
}

// NewService creates the subscription service. auditLog may be nil in tests.
func NewService(store Store, counters counter.Client, catalog *plan.Catalog, auditLog *audit.Logger, logger *zap.Logger, defaultTrialDays int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTrialDays <= 0 {
		defaultTrialDays = 14
	}
	return &Service{
		store:            store,
		counters:         counters,
		catalog:          catalog,
		auditLog:         auditLog,
		logger:           logger,
		defaultTrialDays: defaultTrialDays,
	}
}

// Transition validates and applies a state change. Status, plan, and trial
// end move in one atomic write. When the plan changes, the tenant's current
// day and month usage counters are cleared so new limits apply immediately;
// that invalidation is best-effort and never fails the transition.
func (s *Service) Transition(ctx context.Context, tenantID string, req TransitionRequest) (database.Tenant, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return database.Tenant{}, err
	}

	if err := CheckTransition(tenant.Status, req.Target); err != nil {
		s.record(req, tenant, audit.ResultFailure, err)
		return database.Tenant{}, err
	}

	newPlan := tenant.PlanCode
	if req.PlanCode != "" {
		if !s.catalog.Has(req.PlanCode) {
			err := apierror.Validation(apierror.CodeInvalidInput, "unknown plan code").
				WithDetail("plan_code", req.PlanCode)
			s.record(req, tenant, audit.ResultFailure, err)
			return database.Tenant{}, err
		}
		newPlan = req.PlanCode
	}

	now := time.Now().UTC()
	trialEndsAt := tenant.TrialEndsAt
	if req.TrialExtensionDays > 0 {
		t := now.AddDate(0, 0, req.TrialExtensionDays)
		trialEndsAt = &t
	} else if req.Target == StateTrial && (trialEndsAt == nil || trialEndsAt.Before(now)) {
		t := now.AddDate(0, 0, s.defaultTrialDays)
		trialEndsAt = &t
	}

	if err := s.store.UpdateTenantSubscription(ctx, tenantID, req.Target, newPlan, trialEndsAt); err != nil {
		s.record(req, tenant, audit.ResultFailure, err)
		return database.Tenant{}, fmt.Errorf("failed to persist transition: %w", err)
	}

	// Counters clear on plan change and on recovery from PAST_DUE so the
	// effective limits apply to the very next request.
	if newPlan != tenant.PlanCode || (tenant.Status == StatePastDue && req.Target == StateActive) {
		s.invalidateCounters(ctx, tenantID, now)
	}

	updated := tenant
	updated.Status = req.Target
	updated.PlanCode = newPlan
	updated.TrialEndsAt = trialEndsAt
	updated.UpdatedAt = now

	s.record(req, updated, audit.ResultSuccess, nil)
	s.logger.Info("subscription transition applied",
		zap.String("tenant_id", tenantID),
		zap.String("from", tenant.Status),
		zap.String("to", req.Target),
		zap.String("plan", newPlan))
	return updated, nil
}

// invalidateCounters clears the tenant's usage counters after a plan
// change. A failure leaves stale counters that expire by TTL, which is an
// accepted time-bounded inconsistency.
func (s *Service) invalidateCounters(ctx context.Context, tenantID string, now time.Time) {
	keys := quota.InvalidationKeys(tenantID, now)
	if err := s.counters.Del(ctx, keys...); err != nil {
		s.logger.Warn("failed to clear usage counters after plan change",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) record(req TransitionRequest, tenant database.Tenant, result audit.ResultType, cause error) {
	if s.auditLog == nil {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = audit.ActorSystem
	}
	event := audit.NewEvent(audit.ActionSubscriptionTransition, actor, result).
		WithTenantID(tenant.ID).
		WithClientIP(req.ClientIP).
		WithDetail("target", req.Target).
		WithDetail("plan_code", tenant.PlanCode).
		WithError(cause)
	s.auditLog.Record(event)
}
