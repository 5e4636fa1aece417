package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthService is the slice of the position service the health handler uses.
type HealthService interface {
	Healthy() bool
	CheckStorage(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	svc    HealthService
	mode   string
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler for the given service.
func NewHealthHandler(svc HealthService, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{svc: svc, mode: mode, logger: logger}
}

// HealthCheck reports liveness plus the durability gate state. A suspended
// engine answers 503 so load balancers and operators see the degradation.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	healthy := h.svc.Healthy()
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "mutations_suspended"
	}

	writeJSON(w, status, map[string]any{
		"status":    state,
		"mode":      h.mode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CheckStorage probes the event log and reopens the durability gate if the
// probe succeeds.
// POST /api/health/storage
func (h *HealthHandler) CheckStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CheckStorage(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: storage check failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
