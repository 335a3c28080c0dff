// Package server implements the HTTP surface of the gateway. It wires the
// authentication, rate-limit and usage guards in front of the recognition
// client and exposes the management API. Handlers stay thin; policy lives
// in the guard and service packages.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/abuse"
	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/apikey"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/config"
	"github.com/visagelab/facegate/internal/counter"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/eventbus"
	"github.com/visagelab/facegate/internal/frs"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/plan"
	"github.com/visagelab/facegate/internal/quota"
	"github.com/visagelab/facegate/internal/sharetoken"
	"github.com/visagelab/facegate/internal/subscription"
)

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// Upload ceilings enforced before multipart parsing.
const (
	maxImageUpload = 10 << 20  // per request carrying images
	maxBatchUpload = 64 << 20  // N:N requests carry two full sets
	maxVideoUpload = 256 << 20 // single video file
)

// Deps bundles the constructed components the server routes to.
type Deps struct {
	Logger        *zap.Logger
	DB            *database.DB
	Counters      counter.Client
	Engine        *frs.Client
	Keys          *apikey.Manager
	Guard         *quota.Guard
	Subscriptions *subscription.Service
	ShareTokens   *sharetoken.Service
	Scanner       *abuse.Scanner
	AuditLog      *audit.Logger
	Bus           eventbus.EventBus
}

// Server is the HTTP server for the gateway. It encapsulates the underlying
// http.Server and handles routing and lifecycle.
type Server struct {
	server    *http.Server
	config    *config.Config
	logger    *zap.Logger
	db        *database.DB
	counters  counter.Client
	engine    *frs.Client
	keys      *apikey.Manager
	guard     *quota.Guard
	subs      *subscription.Service
	shares    *sharetoken.Service
	scanner   *abuse.Scanner
	auditLog  *audit.Logger
	bus       eventbus.EventBus
	startTime time.Time
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// New creates the HTTP server and registers all routes. The server is not
// started until Start is called.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("recognition client is required")
	}
	if deps.Keys == nil || deps.Guard == nil {
		return nil, fmt.Errorf("authentication and quota guards are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		config:    cfg,
		logger:    logger,
		db:        deps.DB,
		counters:  deps.Counters,
		engine:    deps.Engine,
		keys:      deps.Keys,
		guard:     deps.Guard,
		subs:      deps.Subscriptions,
		shares:    deps.ShareTokens,
		scanner:   deps.Scanner,
		auditLog:  deps.AuditLog,
		bus:       deps.Bus,
		startTime: time.Now(),
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
			IdleTimeout:  cfg.RequestTimeout * 2,
		},
	}

	requestID := middleware.NewRequestIDMiddleware()
	observe := middleware.NewObservabilityMiddleware(middleware.ObservabilityConfig{
		Enabled:  deps.Bus != nil,
		EventBus: deps.Bus,
	}, logger).Middleware()
	auth := deps.Keys.Middleware()

	// Recognition endpoints: request ID, observability, key auth, then the
	// per-family rate and usage guards. Rejection happens before any
	// upstream call.
	api := func(family quota.Family, feature plan.Feature, h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, requestID, observe, auth, deps.Guard.Middleware(family, feature))
	}
	mux.Handle("/v1/faces/compare", api(quota.FamilyCompare, plan.FeatureCompare, s.handleCompare))
	mux.Handle("/v1/faces/search", api(quota.FamilySearch, plan.FeatureSearch, s.handleSearch))
	mux.Handle("/v1/faces/batch", api(quota.FamilyBatch, plan.FeatureBatch, s.handleBatch))
	mux.Handle("/v1/videos/analyze", api(quota.FamilyVideoSubmit, plan.FeatureVideo, s.handleVideoSubmit))

	// Polling is rate limited but never consumes plan quota.
	mux.Handle("/v1/videos/", middleware.Chain(http.HandlerFunc(s.handleVideoStatus),
		requestID, observe, auth, deps.Guard.RateLimitOnly(quota.FamilyVideoStatus)))

	// Share tokens: issuing requires a key; redemption's only credential is
	// the token itself.
	mux.Handle("/v1/share", middleware.Chain(http.HandlerFunc(s.handleShareIssue), requestID, observe, auth))
	mux.Handle("/v1/share/", middleware.Chain(http.HandlerFunc(s.handleShareRedeem), requestID, observe))

	// Webhooks authenticate via HMAC signature, not API keys.
	mux.Handle("/webhooks/payment", middleware.Chain(http.HandlerFunc(s.handlePaymentWebhook), requestID, observe))

	// Management surface, guarded by the management token.
	manage := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(s.managementAuth(h), requestID)
	}
	mux.Handle("/manage/tenants", manage(s.handleTenants))
	mux.Handle("/manage/tenants/", manage(s.handleTenantByID))
	mux.Handle("/manage/users", manage(s.handleUsers))
	mux.Handle("/manage/users/", manage(s.handleUserAction))
	mux.Handle("/manage/keys", manage(s.handleKeys))
	mux.Handle("/manage/keys/", manage(s.handleKeyAction))
	mux.Handle("/manage/flags", manage(s.handleFlags))
	mux.Handle("/manage/flags/", manage(s.handleFlagAction))
	mux.Handle("/manage/audit", manage(s.handleAuditList))
	mux.Handle("/manage/scan", manage(s.handleScanNow))

	mux.Handle("/health", middleware.Chain(http.HandlerFunc(s.handleHealth), requestID))
	mux.HandleFunc("/", s.handleNotFound)

	return s, nil
}

// Start runs the HTTP server, blocking until shutdown or failure. When an
// event bus is wired, completion events are bridged into the audit trail
// for the lifetime of the server.
func (s *Server) Start() error {
	if s.bus != nil && s.auditLog != nil {
		go s.bridgeEvents()
	}
	s.logger.Info("server starting",
		zap.String("addr", s.config.ListenAddr),
		zap.String("version", Version))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// bridgeEvents copies request-completion events from the bus into the
// audit trail. It exits when the bus channel is drained after shutdown.
func (s *Server) bridgeEvents() {
	for evt := range s.bus.Subscribe() {
		actor := evt.UserID
		if actor == "" {
			actor = audit.ActorAnonymous
		}
		result := audit.ResultSuccess
		if evt.Status >= http.StatusBadRequest {
			result = audit.ResultFailure
		}
		e := audit.NewEvent(audit.ActionRequestCompleted, actor, result).
			WithTenantID(evt.TenantID).
			WithUserID(evt.UserID).
			WithClientIP(evt.ClientIP).
			WithRequest(evt.Method, evt.Path, evt.Status).
			WithUserAgent(evt.UserAgent).
			WithDetail("duration_ms", evt.Duration.Milliseconds())
		if evt.RequestID != "" {
			e = e.WithDetail("request_id", evt.RequestID)
		}
		s.auditLog.Record(e)
	}
}

// managementAuth guards the admin surface with a constant-time comparison
// of the management bearer token.
func (s *Server) managementAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
			apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "management token required"))
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.ManagementToken)) != 1 {
			apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "invalid management token"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, apierror.New(apierror.KindValidation, "not_found", "no such endpoint", http.StatusNotFound))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// decodeJSON reads a JSON request body into dst with a validation error on
// malformed input.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierror.Validation(apierror.CodeInvalidInput, "invalid request body").WithCause(err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	apierror.Write(w, apierror.New(apierror.KindValidation, "method_not_allowed", "method not allowed", http.StatusMethodNotAllowed))
}
