package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/apierror"
	"github.com/visagelab/facegate/internal/audit"
	"github.com/visagelab/facegate/internal/frs"
	"github.com/visagelab/facegate/internal/logging"
	"github.com/visagelab/facegate/internal/middleware"
	"github.com/visagelab/facegate/internal/subscription"
)

// Bounds on comparison fan-out per request.
const (
	maxSearchTargets = 20
	maxBatchSetSize  = 10
)

// POST /v1/faces/compare: 1:1 comparison of two uploaded images.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid multipart request").WithCause(err))
		return
	}
	source, err := formFileBytes(r, "source_image")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	target, err := formFileBytes(r, "target_image")
	if err != nil {
		apierror.Write(w, err)
		return
	}

	result, err := s.engine.CompareOne(r.Context(), source, target)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		RequestID string            `json:"request_id"`
		Threshold float64           `json:"threshold"`
		Result    frs.CompareResult `json:"result"`
	}{requestIDOf(r), s.engine.MatchThreshold(), result})
}

// POST /v1/faces/search: 1:N search of one source face against targets.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchUpload)
	if err := r.ParseMultipartForm(maxBatchUpload); err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid multipart request").WithCause(err))
		return
	}
	source, err := formFileBytes(r, "source_image")
	if err != nil {
		apierror.Write(w, err)
		return
	}
	targets, err := formFilesBytes(r, "target_images", maxSearchTargets)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	result, err := s.engine.SearchMany(r.Context(), source, targets)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		RequestID string           `json:"request_id"`
		Threshold float64          `json:"threshold"`
		Result    frs.SearchResult `json:"result"`
	}{requestIDOf(r), s.engine.MatchThreshold(), result})
}

// POST /v1/faces/batch: N:N cross-product comparison of two image sets.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchUpload)
	if err := r.ParseMultipartForm(maxBatchUpload); err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid multipart request").WithCause(err))
		return
	}
	setA, err := formFilesBytes(r, "set_a", maxBatchSetSize)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	setB, err := formFilesBytes(r, "set_b", maxBatchSetSize)
	if err != nil {
		apierror.Write(w, err)
		return
	}

	result, err := s.engine.CompareBatch(r.Context(), setA, setB)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		RequestID string          `json:"request_id"`
		Threshold float64         `json:"threshold"`
		Result    frs.BatchResult `json:"result"`
	}{requestIDOf(r), s.engine.MatchThreshold(), result})
}

// POST /v1/videos/analyze: submit a video for asynchronous analysis.
func (s *Server) handleVideoSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoUpload)
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid multipart request").WithCause(err))
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "missing file field").WithDetail("field", "video"))
		return
	}
	defer func() { _ = file.Close() }()
	video, err := io.ReadAll(file)
	if err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "failed to read upload").WithCause(err))
		return
	}

	job, err := s.engine.SubmitVideo(r.Context(), video, header.Filename)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, struct {
		RequestID string       `json:"request_id"`
		Job       frs.VideoJob `json:"job"`
	}{requestIDOf(r), job})
}

// GET /v1/videos/{jobId}: poll an analysis job.
func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/v1/videos/")
	if jobID == "" || strings.Contains(jobID, "/") {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "invalid job id"))
		return
	}

	job, err := s.engine.VideoJobStatus(r.Context(), jobID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// POST /v1/share: mint a share token for a stored result. The bearer token
// is returned exactly once.
func (s *Server) handleShareIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "authentication required"))
		return
	}
	var req struct {
		RequestID  string `json:"request_id"`
		ResultType string `json:"result_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	if req.RequestID == "" || req.ResultType == "" {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "request_id and result_type are required"))
		return
	}

	token, record, err := s.shares.Issue(r.Context(), req.RequestID, id.UserID, id.TenantID, req.ResultType)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}{token, record.ExpiresAt})
}

// GET /v1/share/{token}: redeem a share token. The token itself is the
// only credential.
func (s *Server) handleShareRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/v1/share/")
	if token == "" || strings.Contains(token, "/") {
		apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "invalid share token"))
		return
	}

	record, err := s.shares.Validate(r.Context(), token)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

// POST /webhooks/payment: signature-verified billing events driving
// subscription state transitions.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "failed to read body").WithCause(err))
		return
	}

	evt, err := subscription.ParseWebhook(s.config.WebhookSecret, body, r.Header.Get("X-Payment-Signature"))
	if err != nil {
		s.recordWebhook(r, "", audit.ResultFailure, err)
		apierror.Write(w, apierror.Security(apierror.CodeInvalidCredentials, "webhook rejected").WithCause(err))
		return
	}
	target, err := evt.TargetState()
	if err != nil {
		s.recordWebhook(r, evt.TenantID, audit.ResultFailure, err)
		apierror.Write(w, apierror.Validation(apierror.CodeInvalidInput, "unsupported event type").WithDetail("type", evt.Type))
		return
	}

	tenant, err := s.subs.Transition(r.Context(), evt.TenantID, subscription.TransitionRequest{
		Target:   target,
		PlanCode: evt.PlanCode,
		Actor:    "payment_webhook",
		ClientIP: middleware.ClientIP(r),
	})
	if err != nil {
		s.recordWebhook(r, evt.TenantID, audit.ResultFailure, err)
		apierror.Write(w, err)
		return
	}
	s.recordWebhook(r, evt.TenantID, audit.ResultSuccess, nil)
	s.respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Tenant string `json:"tenant_id"`
		State  string `json:"state"`
	}{"processed", tenant.ID, tenant.Status})
}

func (s *Server) recordWebhook(r *http.Request, tenantID string, result audit.ResultType, cause error) {
	if s.auditLog == nil {
		return
	}
	s.auditLog.Record(audit.NewEvent(audit.ActionWebhookReceived, audit.ActorSystem, result).
		WithTenantID(tenantID).
		WithClientIP(middleware.ClientIP(r)).
		WithError(cause))
}

// writeEngineError maps recognition client failures onto the error
// taxonomy: detection misses are the caller's problem, engine outages are
// reported as upstream failures without leaking engine internals.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var ue *frs.UpstreamError
	switch {
	case errors.Is(err, frs.ErrNoFaceDetected):
		apierror.Write(w, apierror.Domain(apierror.CodeNoFaceDetected, err.Error()))
	case errors.As(err, &ue):
		s.logger.Error("recognition engine call failed", zap.Error(err))
		apierror.Write(w, apierror.Upstream(apierror.CodeUpstreamFailure, "recognition service unavailable").WithCause(err))
	default:
		apierror.Write(w, err)
	}
}

func requestIDOf(r *http.Request) string {
	if id, ok := logging.GetRequestID(r.Context()); ok {
		return id
	}
	return ""
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "missing file field").WithDetail("field", field)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "failed to read upload").WithCause(err)
	}
	if len(data) == 0 {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "empty file").WithDetail("field", field)
	}
	return data, nil
}

func formFilesBytes(r *http.Request, field string, maxFiles int) ([][]byte, error) {
	if r.MultipartForm == nil {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "missing file field").WithDetail("field", field)
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "missing file field").WithDetail("field", field)
	}
	if len(headers) > maxFiles {
		return nil, apierror.Validation(apierror.CodeInvalidInput, "too many files").
			WithDetail("field", field).
			WithDetail("max", maxFiles)
	}

	out := make([][]byte, 0, len(headers))
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			return nil, apierror.Validation(apierror.CodeInvalidInput, "failed to read upload").WithCause(err)
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, apierror.Validation(apierror.CodeInvalidInput, "failed to read upload").WithCause(err)
		}
		out = append(out, data)
	}
	return out, nil
}
