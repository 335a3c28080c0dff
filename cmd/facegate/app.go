package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/abuse"
	"github.com/visagelab/facegate/internal/apikey"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/config"
	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/eventbus"
	"github.com/visagelab/facegate/internal/frs"
	"github.com/visagelab/facegate/internal/logging"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/quota"
	"github.com/visagelab/facegate/internal/secret"
	"github.com/visagelab/facegate/internal/sharetoken"
	"github.com/visagelab/facegate/internal/subscription"
)

// app bundles every constructed component. Close tears them down in
// reverse dependency order.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	counters *counter.RedisClient
	catalog  *plan.Catalog
	engine   *frs.Client
	auditLog *audit.Logger
	bus      *eventbus.InMemoryEventBus
	keys     *apikey.Manager
	guard    *quota.Guard
	subs     *subscription.Service
	shares   *sharetoken.Service
	scanner  *abuse.Scanner
}

// buildApp constructs the full component graph from the environment.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Open(database.Config{
		Driver:       cfg.DatabaseDriver,
		Path:         cfg.DatabasePath,
		URL:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabasePool,
		MaxIdleConns: cfg.DatabasePool / 2,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	counters, err := counter.Dial(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to counter store: %w", err)
	}

	catalog := plan.DefaultCatalog()
	if cfg.PlanCatalogPath != "" {
		catalog, err = plan.LoadCatalog(cfg.PlanCatalogPath)
		if err != nil {
			_ = counters.Close()
			_ = db.Close()
			return nil, fmt.Errorf("failed to load plan catalog: %w", err)
		}
	}

	enc, err := secret.NewEncryptorFromBase64Key(cfg.EncryptionKey)
	if err != nil {
		_ = counters.Close()
		_ = db.Close()
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	engine, err := frs.New(frs.Config{
		BaseURL:        cfg.FRSBaseURL,
		APIKey:         cfg.FRSAPIKey,
		MatchThreshold: cfg.MatchThreshold,
		Timeout:        cfg.FRSTimeout,
		VideoTimeout:   cfg.FRSVideoTimeout,
	})
	if err != nil {
		_ = counters.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create recognition client: %w", err)
	}

	auditLog, err := audit.NewLogger(db, logging.ForComponent(logger, "audit"), cfg.AuditBufferSize)
	if err != nil {
		_ = counters.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to start audit logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		counters: counters,
		catalog:  catalog,
		engine:   engine,
		auditLog: auditLog,
		bus:      eventbus.NewInMemoryEventBus(cfg.AuditBufferSize),
	}
	a.keys = apikey.NewManager(db, secret.NewHasher(), enc, catalog, auditLog,
		logging.ForComponent(logger, "apikey"))
	a.guard = quota.NewGuard(
		quota.NewRateLimiter(counters, cfg, logging.ForComponent(logger, "ratelimit")),
		quota.NewUsageGuard(counters, catalog, logging.ForComponent(logger, "usage")),
		db,
	)
	a.subs = subscription.NewService(db, counters, catalog, auditLog,
		logging.ForComponent(logger, "subscription"), cfg.TrialDays)
	a.shares = sharetoken.NewService(db, secret.NewShareTokenCodec(enc), auditLog,
		logging.ForComponent(logger, "sharetoken"))
	a.scanner = abuse.NewScanner(db, counters, catalog,
		logging.ForComponent(logger, "abuse"), cfg.ScanInterval)

	return a, nil
}

// Close flushes the audit buffer and releases connections.
func (a *app) Close() {
	if err := a.auditLog.Close(); err != nil {
		a.logger.Warn("audit logger close failed", zap.Error(err))
	}
	if err := a.counters.Close(); err != nil {
		a.logger.Warn("counter store close failed", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
