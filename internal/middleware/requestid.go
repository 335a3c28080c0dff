package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/visagelab/facegate/internal/logging"
)

// NewRequestIDMiddleware propagates or generates the X-Request-ID header
// and stores the ID in the request context.
func NewRequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := getOrGenerateID(r.Header.Get("X-Request-ID"))

			ctx := logging.WithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getOrGenerateID returns the provided ID if non-empty, otherwise a new UUID.
func getOrGenerateID(existingID string) string {
	existingID = strings.TrimSpace(existingID)
	if existingID == "" {
		return uuid.New().String()
	}
	return existingID
}
