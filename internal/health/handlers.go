package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handlers serves the liveness and readiness endpoints:
//   - health: process is up and the store answers
//   - ready:  the service has finished starting and all checks pass
//   - live:   the process can respond at all
type Handlers struct {
	checker *Checker
	logger  *zap.Logger

	// ready indicates if the server is ready to handle requests
	ready atomic.Bool
}

// NewHandlers creates handlers backed by checker.
func NewHandlers(checker *Checker, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{checker: checker, logger: logger}
}

// SetReady marks the service as ready to handle requests.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Response represents the response from the health and ready endpoints.
type Response struct {
	Status    Status    `json:"status"`
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Health returns full health status with all component checks.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, checks := h.checker.CheckAll(ctx)

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, Response{
		Status:    status,
		Ready:     h.ready.Load(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// Ready returns 200 once SetReady(true) was called and no check is unhealthy.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		h.write(w, http.StatusServiceUnavailable, Response{
			Status:    StatusUnhealthy,
			Timestamp: time.Now().UTC(),
			Checks:    []Check{},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, checks := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, Response{
		Status:    status,
		Ready:     status != StatusUnhealthy,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// Live returns 200 if the process is running.
func (h *Handlers) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

func (h *Handlers) write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
