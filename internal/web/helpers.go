package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/emiliopalmerini/abassign/internal/domain"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects unknown fields. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &domain.ValidationError{Reason: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		transition *domain.InvalidStateTransitionError
		immutable  *domain.ImmutableConfigurationError
		noVariants *domain.NoVariantsError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transition), errors.As(err, &immutable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExperimentNotRunning), errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVariantMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &noVariants):
		return http.StatusInternalServerError
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		resp.Field = validation.Field
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			var noVariants *domain.NoVariantsError
			if !errors.As(err, &noVariants) {
				resp.Error = "internal error"
			}
		}
	}
	writeJSON(w, status, resp)
}
