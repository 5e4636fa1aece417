package handler

import (
	"context"
	"log/slog"
	"net/http"

	"positionengine/internal/reconcile"
)

// ReconcileRunner triggers a reconciliation pass on demand.
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// ReconcileHandler serves the manual reconciliation trigger.
type ReconcileHandler struct {
	runner ReconcileRunner
	logger *slog.Logger
}

// NewReconcileHandler creates a ReconcileHandler.
func NewReconcileHandler(runner ReconcileRunner, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{runner: runner, logger: logger}
}

// Trigger runs one reconciliation pass and returns its report.
// POST /api/reconcile
func (h *ReconcileHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: manual reconcile failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "reconciliation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"remote":   report.Remote,
		"local":    report.Local,
		"matched":  report.Matched,
		"adjusted": report.Adjusted,
		"closed":   report.Closed,
		"orphaned": report.Orphaned,
		"recorded": report.Recorded,
		"took_ms":  report.Took.Milliseconds(),
	})
}
