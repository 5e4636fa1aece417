package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"positionengine/internal/domain"
)

// PositionsChannel is the signal bus channel carrying change notifications.
const PositionsChannel = "positions"

// PositionsStream is the capped stream dashboards read history from.
const PositionsStream = "stream:positions"

// Notifier receives best-effort operator notifications. notify.Notifier
// satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OpenRequest carries the parameters of an open call.
type OpenRequest struct {
	Symbol          string
	Side            domain.Side
	EntryPrice      decimal.Decimal
	Amount          decimal.Decimal
	StopPrice       *decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	Owner           string
	Metadata        map[string]string
}

// Service is the only entry point strategy agents use to mutate position
// state. Every mutating call acquires the appropriate lock, appends one event
// to the durable log, folds it into the position store, and then releases the
// lock. Nothing else writes to the event log.
type Service struct {
	log      domain.EventLog
	store    domain.PositionStore
	ids      *IDGenerator
	locks    *KeyedLock
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	// healthy gates mutations after a durability failure. Continuing to
	// accept writes while the log is uncertain would reintroduce restart
	// amnesia, so the gate stays closed until CheckStorage succeeds.
	healthy atomic.Bool
	// diverged is set when an event reached the log but not the derived
	// store. CheckStorage must rebuild the store from replay before the
	// gate reopens, or transition checks would run against a stale
	// snapshot and append events the log cannot fold.
	diverged atomic.Bool
}

// NewService creates the position service. bus and notifier may be nil.
func NewService(
	log domain.EventLog,
	store domain.PositionStore,
	ids *IDGenerator,
	locks *KeyedLock,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *Service {
	s := &Service{
		log:      log,
		store:    store,
		ids:      ids,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "position_service")),
	}
	s.healthy.Store(true)
	return s
}

// Open creates a new position and returns its first snapshot. The lock is
// scoped to (symbol, owner) because the position id does not exist yet; this
// closes the duplicate-open race for a single agent.
func (s *Service) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	if err := validateOpen(req); err != nil {
		return domain.Position{}, err
	}

	id, err := s.ids.NextID(req.Symbol, req.Side)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: open: %w", err)
	}

	ev, err := domain.NewEvent(id, domain.EventOpened, domain.OpenedPayload{
		Symbol:          req.Symbol,
		Side:            req.Side,
		EntryPrice:      req.EntryPrice,
		Amount:          req.Amount,
		StopPrice:       req.StopPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Owner:           req.Owner,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return domain.Position{}, err
	}

	return s.mutate(ctx, openLockKey(req.Symbol, req.Owner), ev, "position_opened")
}

// RecordRemote opens a synthetic orphaned position for exposure that exists
// on the exchange but not locally. Only the reconciliation engine calls it.
func (s *Service) RecordRemote(ctx context.Context, remote domain.RemotePosition, entryPrice decimal.Decimal) (domain.Position, error) {
	id, err := s.ids.NextID(remote.Symbol, remote.Side)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: record remote: %w", err)
	}

	ev, err := domain.NewEvent(id, domain.EventOpened, domain.OpenedPayload{
		Symbol:     remote.Symbol,
		Side:       remote.Side,
		EntryPrice: entryPrice,
		Amount:     remote.Amount,
		Owner:      domain.ReconciliationOwner,
		Orphaned:   true,
	})
	if err != nil {
		return domain.Position{}, err
	}

	return s.mutate(ctx, openLockKey(remote.Symbol, domain.ReconciliationOwner), ev, "position_orphaned")
}

// Adjust changes a position's amount by delta.
func (s *Service) Adjust(ctx context.Context, id string, delta decimal.Decimal, reason string) (domain.Position, error) {
	ev, err := domain.NewEvent(id, domain.EventAdjusted, domain.AdjustedPayload{
		Delta:  delta,
		Reason: reason,
	})
	if err != nil {
		return domain.Position{}, err
	}
	return s.mutate(ctx, id, ev, "position_adjusted")
}

// TriggerStop moves an open position to closing after protective logic
// observed its stop level breached.
func (s *Service) TriggerStop(ctx context.Context, id string, stopPrice decimal.Decimal) (domain.Position, error) {
	ev, err := domain.NewEvent(id, domain.EventStopTriggered, domain.StopTriggeredPayload{
		StopPrice: stopPrice,
	})
	if err != nil {
		return domain.Position{}, err
	}
	return s.mutate(ctx, id, ev, "position_stop_triggered")
}

// Close terminates a position with the caller-supplied realized PnL.
func (s *Service) Close(ctx context.Context, id string, realizedPnL decimal.Decimal) (domain.Position, error) {
	return s.close(ctx, id, realizedPnL, nil, "")
}

// CloseAt terminates a position recording the exit price alongside the PnL.
// The reconciliation engine uses it for positions closed externally.
func (s *Service) CloseAt(ctx context.Context, id string, realizedPnL, exitPrice decimal.Decimal, reason string) (domain.Position, error) {
	return s.close(ctx, id, realizedPnL, &exitPrice, reason)
}

func (s *Service) close(ctx context.Context, id string, realizedPnL decimal.Decimal, exitPrice *decimal.Decimal, reason string) (domain.Position, error) {
	ev, err := domain.NewEvent(id, domain.EventClosed, domain.ClosedPayload{
		RealizedPnL: realizedPnL,
		ExitPrice:   exitPrice,
		Reason:      reason,
	})
	if err != nil {
		return domain.Position{}, err
	}
	return s.mutate(ctx, id, ev, "position_closed")
}

// MarkOrphaned flags a position that automatic reconciliation could not
// safely resolve. Terminal; requires explicit resolution.
func (s *Service) MarkOrphaned(ctx context.Context, id, reason string) (domain.Position, error) {
	ev, err := domain.NewEvent(id, domain.EventOrphanMarked, domain.OrphanMarkedPayload{
		Reason: reason,
	})
	if err != nil {
		return domain.Position{}, err
	}
	return s.mutate(ctx, id, ev, "position_orphaned")
}

// ResolveOrphan records how an orphaned position was dealt with.
func (s *Service) ResolveOrphan(ctx context.Context, id, note string) (domain.Position, error) {
	ev, err := domain.NewEvent(id, domain.EventReconciled, domain.ReconciledPayload{
		Note: note,
	})
	if err != nil {
		return domain.Position{}, err
	}
	return s.mutate(ctx, id, ev, "position_resolved")
}

// Get returns a snapshot of one position.
func (s *Service) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// List returns position snapshots matching the filter.
func (s *Service) List(ctx context.Context, f domain.Filter) ([]domain.Position, error) {
	positions, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return positions, nil
}

// Events returns the full event history of one position in order.
func (s *Service) Events(ctx context.Context, id string) ([]domain.Event, error) {
	events, err := s.log.Replay(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("position_service: events %q: %w", id, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("position_service: events %q: %w", id, domain.ErrNotFound)
	}
	return events, nil
}

// Healthy reports whether the service is accepting mutations.
func (s *Service) Healthy() bool {
	return s.healthy.Load()
}

// CheckStorage probes the event log and reopens the durability gate when the
// log is reachable again. If an earlier mutation left the derived store
// behind the log, the store is rebuilt from full replay first; the gate
// never reopens over a diverged store.
func (s *Service) CheckStorage(ctx context.Context) error {
	if _, err := s.log.LastSequence(ctx); err != nil {
		return fmt.Errorf("position_service: storage check: %w", err)
	}
	if s.diverged.Load() {
		if err := RebuildStore(ctx, s.log, s.store, s.logger); err != nil {
			return fmt.Errorf("position_service: storage check: %w", err)
		}
		s.diverged.Store(false)
	}
	s.healthy.Store(true)
	return nil
}

// mutate is the single write path: lock, validate the transition against the
// current snapshot, append durably, fold into the store, notify.
func (s *Service) mutate(ctx context.Context, lockKey string, ev domain.Event, notifyEvent string) (domain.Position, error) {
	if !s.healthy.Load() {
		return domain.Position{}, fmt.Errorf("position_service: mutations suspended: %w", domain.ErrDurabilityFailure)
	}

	var pos domain.Position
	err := s.locks.WithLock(ctx, lockKey, func() error {
		// Reject invalid transitions before touching the log so a failed
		// call leaves no trace.
		var current *domain.Position
		cur, err := s.store.Get(ctx, ev.PositionID)
		switch {
		case err == nil:
			current = &cur
		case errors.Is(err, domain.ErrNotFound):
			current = nil
		default:
			return fmt.Errorf("position_service: load %q: %w", ev.PositionID, err)
		}

		preview := ev
		preview.RecordedAt = time.Now().UTC()
		if _, err := domain.Fold(current, preview); err != nil {
			return err
		}

		appended, err := s.log.Append(ctx, ev)
		if err != nil {
			s.healthy.Store(false)
			s.logger.ErrorContext(ctx, "append failed, suspending mutations",
				slog.String("position_id", ev.PositionID),
				slog.String("event_type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("position_service: append %s for %q: %v: %w",
				ev.Type, ev.PositionID, err, domain.ErrDurabilityFailure)
		}

		pos, err = s.store.ApplyEvent(ctx, appended)
		if err != nil {
			// The event is durable but the snapshot is now stale. Further
			// mutations would validate against it and append events the
			// log cannot fold, so the gate closes until CheckStorage
			// rebuilds the store from replay.
			s.healthy.Store(false)
			s.diverged.Store(true)
			s.logger.ErrorContext(ctx, "store apply failed after durable append, suspending mutations",
				slog.String("position_id", ev.PositionID),
				slog.Int64("event_id", appended.ID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("position_service: apply event %d: %v: %w",
				appended.ID, err, domain.ErrDurabilityFailure)
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.notifyChange(ctx, pos, ev.Type, notifyEvent)
	return pos, nil
}

// notifyChange publishes the change to the signal bus and the notifier.
// Best-effort: failures are logged and never propagate to the caller.
func (s *Service) notifyChange(ctx context.Context, pos domain.Position, evType domain.EventType, notifyEvent string) {
	payload, err := json.Marshal(map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"status":      string(pos.Status),
		"event_type":  string(evType),
		"owner":       pos.Owner,
	})
	if err != nil {
		return
	}

	if s.bus != nil {
		if pubErr := s.bus.Publish(ctx, PositionsChannel, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "publish change failed",
				slog.String("position_id", pos.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		if streamErr := s.bus.StreamAppend(ctx, PositionsStream, payload); streamErr != nil {
			s.logger.WarnContext(ctx, "stream append failed",
				slog.String("position_id", pos.ID),
				slog.String("error", streamErr.Error()),
			)
		}
	}

	if s.notifier != nil {
		title := fmt.Sprintf("Position %s", pos.Status)
		msg := fmt.Sprintf("%s %s %s amount=%s owner=%s",
			pos.ID, pos.Symbol, pos.Side, pos.Amount, pos.Owner)
		if notifyErr := s.notifier.Notify(ctx, notifyEvent, title, msg); notifyErr != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("position_id", pos.ID),
				slog.String("error", notifyErr.Error()),
			)
		}
	}
}

// ErrInvalidRequest marks open requests rejected before any event exists.
var ErrInvalidRequest = errors.New("invalid request")

func validateOpen(req OpenRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("position_service: open: symbol required: %w", ErrInvalidRequest)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("position_service: open: invalid side %q: %w", req.Side, ErrInvalidRequest)
	}
	if req.Amount.Sign() <= 0 {
		return fmt.Errorf("position_service: open: amount must be positive, got %s: %w", req.Amount, ErrInvalidRequest)
	}
	if req.EntryPrice.Sign() <= 0 {
		return fmt.Errorf("position_service: open: entry price must be positive, got %s: %w", req.EntryPrice, ErrInvalidRequest)
	}
	if req.Owner == "" {
		return fmt.Errorf("position_service: open: owner required: %w", ErrInvalidRequest)
	}
	return nil
}

func openLockKey(symbol, owner string) string {
	return "open/" + symbol + "/" + owner
}
