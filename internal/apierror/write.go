package apierror

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Error *Error `json:"error"`
}

// Write renders err as the canonical JSON error envelope. Errors outside the
// taxonomy become an opaque 500 so internals never leak.
func Write(w http.ResponseWriter, err error) {
	apiErr := AsError(err)
	if apiErr == nil {
		apiErr = New(KindUpstream, "internal_error", "internal server error", http.StatusInternalServerError)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiErr})
}
