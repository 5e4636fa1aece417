package domain

import (
	"encoding/json"
	"fmt"
)

// Fold computes the next position state from the current one and a new event.
// It is a pure function: the same inputs always produce the same output and
// current is never mutated, which is what makes store rebuilds from replay
// deterministic. current is nil when no position exists for the event's id.
func Fold(current *Position, ev Event) (Position, error) {
	if ev.Type == EventOpened {
		if current != nil {
			return Position{}, fmt.Errorf("fold %s: position %s already exists: %w",
				ev.Type, ev.PositionID, ErrInvalidTransition)
		}
		return foldOpened(ev)
	}

	if current == nil {
		return Position{}, fmt.Errorf("fold %s: position %s: %w", ev.Type, ev.PositionID, ErrNotFound)
	}
	next := current.Clone()
	if next.Metadata == nil {
		next.Metadata = map[string]string{}
	}

	switch ev.Type {
	case EventAdjusted:
		if next.Status != PositionStatusOpen && next.Status != PositionStatusClosing {
			return Position{}, transitionErr(ev, next.Status)
		}
		var p AdjustedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
		}
		amount := next.Amount.Add(p.Delta)
		if amount.Sign() <= 0 {
			return Position{}, fmt.Errorf("fold %s: amount %s would become non-positive: %w",
				ev.Type, amount, ErrInvalidTransition)
		}
		next.Amount = amount
		if p.StopPrice != nil {
			v := *p.StopPrice
			next.StopPrice = &v
		}
		if p.TakeProfitPrice != nil {
			v := *p.TakeProfitPrice
			next.TakeProfitPrice = &v
		}

	case EventStopTriggered:
		if next.Status != PositionStatusOpen {
			return Position{}, transitionErr(ev, next.Status)
		}
		var p StopTriggeredPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
		}
		next.Status = PositionStatusClosing
		v := p.StopPrice
		next.StopPrice = &v

	case EventClosed:
		if next.Status != PositionStatusOpen && next.Status != PositionStatusClosing {
			return Position{}, transitionErr(ev, next.Status)
		}
		var p ClosedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
		}
		next.Status = PositionStatusClosed
		pnl := p.RealizedPnL
		next.RealizedPnL = &pnl
		closedAt := ev.RecordedAt
		next.ClosedAt = &closedAt

	case EventOrphanMarked:
		if next.Status != PositionStatusOpen && next.Status != PositionStatusClosing {
			return Position{}, transitionErr(ev, next.Status)
		}
		var p OrphanMarkedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
		}
		next.Status = PositionStatusOrphaned
		next.Metadata["orphan_reason"] = p.Reason

	case EventReconciled:
		// Resolution record for an orphaned position. The status stays
		// terminal; only the paper trail changes.
		if next.Status != PositionStatusOrphaned {
			return Position{}, transitionErr(ev, next.Status)
		}
		var p ReconciledPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
		}
		next.Metadata["resolution"] = p.Note

	default:
		return Position{}, fmt.Errorf("fold: unknown event type %q: %w", ev.Type, ErrInvalidTransition)
	}

	return next, nil
}

func foldOpened(ev Event) (Position, error) {
	var p OpenedPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return Position{}, fmt.Errorf("fold %s: decode payload: %w", ev.Type, err)
	}
	if !p.Side.Valid() {
		return Position{}, fmt.Errorf("fold %s: invalid side %q: %w", ev.Type, p.Side, ErrInvalidTransition)
	}
	if p.Amount.Sign() <= 0 {
		return Position{}, fmt.Errorf("fold %s: non-positive amount %s: %w", ev.Type, p.Amount, ErrInvalidTransition)
	}

	status := PositionStatusOpen
	if p.Orphaned {
		status = PositionStatusOrphaned
	}

	pos := Position{
		ID:         ev.PositionID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		Amount:     p.Amount,
		Status:     status,
		Owner:      p.Owner,
		OpenedAt:   ev.RecordedAt,
	}
	if p.StopPrice != nil {
		v := *p.StopPrice
		pos.StopPrice = &v
	}
	if p.TakeProfitPrice != nil {
		v := *p.TakeProfitPrice
		pos.TakeProfitPrice = &v
	}
	if p.Metadata != nil {
		pos.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			pos.Metadata[k] = v
		}
	}
	return pos, nil
}

func transitionErr(ev Event, status PositionStatus) error {
	return fmt.Errorf("fold %s: position %s is %s: %w", ev.Type, ev.PositionID, status, ErrInvalidTransition)
}
