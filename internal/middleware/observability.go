package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/eventbus"
	"github.com/visagelab/facegate/internal/logging"
)

// ObservabilityConfig controls the behavior of the observability middleware.
type ObservabilityConfig struct {
	Enabled  bool
	EventBus eventbus.EventBus
}

// ObservabilityMiddleware publishes a completion event for every request so
// the audit trail and abuse signals see outcomes without touching handlers.
type ObservabilityMiddleware struct {
	cfg    ObservabilityConfig
	logger *zap.Logger
}

// NewObservabilityMiddleware creates a new ObservabilityMiddleware instance.
func NewObservabilityMiddleware(cfg ObservabilityConfig, logger *zap.Logger) *ObservabilityMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservabilityMiddleware{cfg: cfg, logger: logger}
}

// Middleware returns the http middleware function.
func (m *ObservabilityMiddleware) Middleware() Middleware {
	if !m.cfg.Enabled || m.cfg.EventBus == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			crw := &captureResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(WithIdentityHolder(r.Context()))

			next.ServeHTTP(crw, r)

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				if v, ok := logging.GetRequestID(r.Context()); ok {
					reqID = v
				}
			}
			if reqID == "" {
				reqID = crw.Header().Get("X-Request-ID")
			}

			evt := eventbus.Event{
				RequestID: reqID,
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    crw.statusCode,
				Duration:  time.Since(start),
				ClientIP:  ClientIP(r),
				UserAgent: r.UserAgent(),
			}
			// Filled by key auth deeper in the chain via SetIdentity.
			if id, ok := GetIdentity(r.Context()); ok {
				evt.TenantID = id.TenantID
				evt.UserID = id.UserID
			}

			go m.cfg.EventBus.Publish(context.Background(), evt)
		})
	}
}

// captureResponseWriter wraps http.ResponseWriter to record the status code
// while supporting streaming.
type captureResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *captureResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *captureResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}
