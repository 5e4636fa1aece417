package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"positionengine/internal/domain"
	"positionengine/internal/engine"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req engine.OpenRequest) (domain.Position, error)
	Adjust(ctx context.Context, id string, delta decimal.Decimal, reason string) (domain.Position, error)
	TriggerStop(ctx context.Context, id string, stopPrice decimal.Decimal) (domain.Position, error)
	Close(ctx context.Context, id string, realizedPnL decimal.Decimal) (domain.Position, error)
	MarkOrphaned(ctx context.Context, id, reason string) (domain.Position, error)
	ResolveOrphan(ctx context.Context, id, note string) (domain.Position, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, f domain.Filter) ([]domain.Position, error)
	Events(ctx context.Context, id string) ([]domain.Event, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	svc    PositionService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(svc PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		svc:    svc,
		logger: logger,
	}
}

type openRequest struct {
	Symbol          string            `json:"symbol"`
	Side            string            `json:"side"`
	EntryPrice      decimal.Decimal   `json:"entry_price"`
	Amount          decimal.Decimal   `json:"amount"`
	StopPrice       *decimal.Decimal  `json:"stop_price,omitempty"`
	TakeProfitPrice *decimal.Decimal  `json:"take_profit_price,omitempty"`
	Owner           string            `json:"owner"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OpenPosition creates a new position.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos, err := h.svc.Open(r.Context(), engine.OpenRequest{
		Symbol:          req.Symbol,
		Side:            domain.Side(req.Side),
		EntryPrice:      req.EntryPrice,
		Amount:          req.Amount,
		StopPrice:       req.StopPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Owner:           req.Owner,
		Metadata:        req.Metadata,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions returns positions matching the query filter.
// GET /api/positions?symbol=BTC-USD&owner=agent&status=open,closing
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.List(r.Context(), parseFilter(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPosition returns one position snapshot.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.svc.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetEvents returns the full event history of one position.
// GET /api/positions/{id}/events
func (h *PositionHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type adjustRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

// AdjustPosition changes a position's amount by a delta.
// POST /api/positions/{id}/adjust
func (h *PositionHandler) AdjustPosition(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos, err := h.svc.Adjust(r.Context(), pathParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type triggerStopRequest struct {
	StopPrice decimal.Decimal `json:"stop_price"`
}

// TriggerStop moves an open position to closing.
// POST /api/positions/{id}/trigger-stop
func (h *PositionHandler) TriggerStop(w http.ResponseWriter, r *http.Request) {
	var req triggerStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos, err := h.svc.TriggerStop(r.Context(), pathParam(r, "id"), req.StopPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type closeRequest struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// ClosePosition terminates a position with the caller-supplied realized PnL.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pos, err := h.svc.Close(r.Context(), pathParam(r, "id"), req.RealizedPnL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type orphanRequest struct {
	Reason string `json:"reason"`
}

// MarkOrphaned flags a position for manual attention.
// POST /api/positions/{id}/orphan
func (h *PositionHandler) MarkOrphaned(w http.ResponseWriter, r *http.Request) {
	var req orphanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	pos, err := h.svc.MarkOrphaned(r.Context(), pathParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type resolveRequest struct {
	Note string `json:"note"`
}

// ResolveOrphan records how an orphaned position was dealt with.
// POST /api/positions/{id}/resolve
func (h *PositionHandler) ResolveOrphan(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Note == "" {
		writeError(w, http.StatusBadRequest, "note required")
		return
	}

	pos, err := h.svc.ResolveOrphan(r.Context(), pathParam(r, "id"), req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
