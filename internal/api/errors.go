package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/security"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail     string      `json:"detail"`
	Code       string      `json:"code"`
	Category   string      `json:"category"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    interface{} `json:"details,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError renders err as a JSON error. Errors without a structured
// code are reported as internal errors and their text is not exposed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := apperrors.As(err)
	if !ok && errors.Is(err, context.DeadlineExceeded) {
		se, ok = apperrors.NewTimeout(r.Method+" "+r.URL.Path).WithCause(err), true
	}
	if !ok {
		s.logger.Error("Unhandled error",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("error", security.SanitizeError(err)),
		)
		se = apperrors.NewInternalError("Internal server error")
	}

	status := se.HTTPStatus()
	if status >= http.StatusInternalServerError && ok {
		cause := errors.Unwrap(se)
		s.logger.Error("Request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("code", string(se.Code)),
			zap.String("error", security.SanitizeError(cause)),
		)
	}

	s.writeJSON(w, status, errorResponse{
		Detail:     se.Message,
		Code:       string(se.Code),
		Category:   string(se.Category),
		Suggestion: se.Suggestion,
		Details:    se.Details,
		RequestID:  requestIDFrom(r.Context()),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, apperrors.New(apperrors.CodeResourceNotFound, apperrors.ClientError, "No route for "+r.URL.Path))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
		Detail:    "Method " + r.Method + " not allowed",
		Code:      string(apperrors.CodeInvalidInput),
		Category:  string(apperrors.ClientError),
		RequestID: requestIDFrom(r.Context()),
	})
}
