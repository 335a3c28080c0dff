package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/apikey"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/database"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/subscription"
)

const defaultListLimit = 100

// POST|GET /manage/tenants
func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tenants, err := s.db.ListTenants(r.Context(), listLimit(r))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, tenants)
	case http.MethodPost:
		s.handleCreateTenant(w, r)
	default:
		methodNotAllowed(w)
	}
}

// New tenants start in TRIAL with the default trial window; activation is
// a subscription transition, never part of creation.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		PlanCode string `json:"plan_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "name is required"))
		return
	}
	planCode := req.PlanCode
	if planCode == "" {
		planCode = s.config.TrialPlanCode
	}

	now := time.Now().UTC()
	trialEnds := now.AddDate(0, 0, s.config.TrialDays)
	tenant := database.Tenant{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		PlanCode:    planCode,
		Status:      subscription.StateTrial,
		TrialEndsAt: &trialEnds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateTenant(r.Context(), tenant); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("plan", tenant.PlanCode))
	s.respondJSON(w, http.StatusCreated, tenant)
}

// /manage/tenants/{id} and its sub-actions.
func (s *Server) handleTenantByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/manage/tenants/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid tenant id"))
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		tenant, err := s.db.GetTenant(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, tenant)
	case "transition":
		s.handleTenantTransition(w, r, id)
	case "usage/reset":
		s.handleUsageReset(w, r, id)
	default:
		s.handleNotFound(w, r)
	}
}

// POST /manage/tenants/{id}/transition
func (s *Server) handleTenantTransition(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Target             string `json:"target"`
		PlanCode           string `json:"plan_code"`
		TrialExtensionDays int    `json:"trial_extension_days"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}

	tenant, err := s.subs.Transition(r.Context(), tenantID, subscription.TransitionRequest{
		Target:             req.Target,
		PlanCode:           req.PlanCode,
		TrialExtensionDays: req.TrialExtensionDays,
		Actor:              audit.ActorManagement,
		ClientIP:           middleware.ClientIP(r),
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tenant)
}

// POST /manage/tenants/{id}/usage/reset clears every rate and usage
// counter for the tenant.
func (s *Server) handleUsageReset(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	deleted := 0
	for _, pattern := range []string{"usage:" + tenantID + ":*", "rate:tenant:" + tenantID + ":*"} {
		n, err := s.counters.DeleteByPattern(r.Context(), pattern)
		if err != nil {
			apierror.Write(w, apierror.New(apierror.KindUpstream, apierror.CodeUpstreamFailure,
				"counter store unavailable", http.StatusServiceUnavailable).WithCause(err))
			return
		}
		deleted += n
	}
	s.logger.Info("tenant usage reset",
		zap.String("tenant_id", tenantID),
		zap.Int("keys_deleted", deleted))
	s.respondJSON(w, http.StatusOK, struct {
		KeysDeleted int `json:"keys_deleted"`
	}{deleted})
}

// POST /manage/users
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		TenantID   string `json:"tenant_id"`
		ExternalID string `json:"external_id"`
		Email      string `json:"email"`
		SystemRole string `json:"system_role"`
		SignupIP   string `json:"signup_ip"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if req.TenantID == "" || req.ExternalID == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "tenant_id and external_id are required"))
		return
	}
	if _, err := s.db.GetTenant(r.Context(), req.TenantID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	role := req.SystemRole
	if role == "" {
		role = "normal"
	}
	signupIP := req.SignupIP
	if signupIP == "" {
		signupIP = middleware.ClientIP(r)
	}

	user := database.User{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		ExternalID: req.ExternalID,
		Email:      req.Email,
		SystemRole: role,
		SignupIP:   signupIP,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.CreateUser(r.Context(), user); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

// POST /manage/users/{id}/suspend|unsuspend|ban
func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/manage/users/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid user id"))
		return
	}
	if action == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		user, err := s.db.GetUser(r.Context(), id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, user)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Reason string `json:"reason"`
		Role   string `json:"role"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			apierror.Write(w, err)
			return
		}
	}

	var err error
	var auditAction string
	switch action {
	case "suspend":
		err = s.db.SetUserSuspension(r.Context(), id, true, req.Reason)
		auditAction = audit.ActionUserSuspend
	case "unsuspend":
		err = s.db.SetUserSuspension(r.Context(), id, false, "")
		auditAction = audit.ActionUserUnsuspend
	case "ban":
		err = s.db.SetUserBan(r.Context(), id, true, req.Reason)
		auditAction = audit.ActionUserBan
	case "unban":
		err = s.db.SetUserBan(r.Context(), id, false, "")
		auditAction = audit.ActionUserUnban
	case "role":
		if req.Role != "normal" && req.Role != "admin" && req.Role != "super_admin" {
			apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid role").
				WithDetail("accepted", []string{"normal", "admin", "super_admin"}))
			return
		}
		err = s.db.SetUserSystemRole(r.Context(), id, req.Role)
		auditAction = audit.ActionUserRoleChange
		req.Reason = req.Role
	default:
		s.handleNotFound(w, r)
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.recordAdmin(r, auditAction, "", id, req.Reason)
	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

// POST|GET /manage/keys
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "tenant_id query parameter is required"))
			return
		}
		list, err := s.keys.List(r.Context(), tenantID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req struct {
			TenantID string `json:"tenant_id"`
			UserID   string `json:"user_id"`
			Name     string `json:"name"`
			Expiry   string `json:"expiry"`
		}
		if err := decodeJSON(r, &req); err != nil {
			apierror.Write(w, err)
			return
		}
		created, err := s.keys.Create(r.Context(), apikey.CreateParams{
			TenantID: req.TenantID,
			UserID:   req.UserID,
			Name:     req.Name,
			Expiry:   req.Expiry,
		}, s.requestMeta(r))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, struct {
			ID        string     `json:"id"`
			Name      string     `json:"name"`
			Secret    string     `json:"secret"` // shown exactly once
			ExpiresAt *time.Time `json:"expires_at,omitempty"`
		}{created.Key.ID, created.Key.Name, created.Secret, created.Key.ExpiresAt})
	default:
		methodNotAllowed(w)
	}
}

// POST /manage/keys/{id}/reveal|revoke
func (s *Server) handleKeyAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/manage/keys/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid key id"))
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "tenant_id query parameter is required"))
		return
	}

	switch action {
	case "reveal":
		raw, err := s.keys.Reveal(r.Context(), tenantID, id, s.requestMeta(r))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, struct {
			Key string `json:"key"`
		}{raw})
	case "revoke":
		if err := s.keys.Revoke(r.Context(), tenantID, id, s.requestMeta(r)); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{"revoked"})
	default:
		s.handleNotFound(w, r)
	}
}

// GET /manage/flags
func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flags, err := s.db.ListOpenAbuseFlags(r.Context(), listLimit(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, flags)
}

// POST /manage/flags/{id}/resolve
func (s *Server) handleFlagAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/manage/flags/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "resolve" {
		s.handleNotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	if err := s.db.ResolveAbuseFlag(r.Context(), id, time.Now().UTC()); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.recordAdmin(r, audit.ActionAbuseFlagResolve, "", "", id)
	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"resolved"})
}

// GET /manage/audit
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	events, err := s.db.ListAuditEvents(r.Context(), r.URL.Query().Get("tenant_id"), listLimit(r))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

// POST /manage/scan runs one abuse scan pass synchronously.
func (s *Server) handleScanNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.scanner == nil {
		apierror.Write(w, apierror.New(apierror.KindValidation, "not_found", "abuse scanning is disabled", http.StatusNotFound))
		return
	}
	s.scanner.Scan(r.Context())
	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"scan completed"})
}

func (s *Server) requestMeta(r *http.Request) apikey.RequestMeta {
	return apikey.RequestMeta{
		Actor:     audit.ActorManagement,
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (s *Server) recordAdmin(r *http.Request, action, tenantID, userID, detail string) {
	if s.auditLog == nil {
		return
	}
	e := audit.NewEvent(action, audit.ActorManagement, audit.ResultSuccess).
		WithTenantID(tenantID).
		WithUserID(userID).
		WithClientIP(middleware.ClientIP(r))
	if detail != "" {
		e = e.WithDetailText(detail)
	}
	s.auditLog.Record(e)
}

// writeStoreError renders API errors as-is and maps missing rows to 404;
// anything else stays an opaque 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if apiErr := apierror.AsError(err); apiErr != nil {
		apierror.Write(w, apiErr)
		return
	}
	if errors.Is(err, database.ErrNotFound) {
		apierror.Write(w, apierror.New(apierror.KindValidation, "not_found", "resource not found", http.StatusNotFound))
		return
	}
	s.logger.Error("store operation failed", zap.Error(err))
	apierror.Write(w, err)
}

func listLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}
