package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates the closed set of facts that can be recorded about a
// position.
type EventType string

const (
	EventOpened        EventType = "opened"
	EventAdjusted      EventType = "adjusted"
	EventStopTriggered EventType = "stop_triggered"
	EventClosed        EventType = "closed"
	EventReconciled    EventType = "reconciled"
	EventOrphanMarked  EventType = "orphan_marked"
)

// Event is an immutable fact about a position. ID and RecordedAt are assigned
// by the event log at append time; callers leave them zero.
type Event struct {
	ID         int64           `json:"event_id"`
	PositionID string          `json:"position_id"`
	Type       EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewEvent builds an Event with the payload marshalled to JSON.
func NewEvent(positionID string, typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", typ, err)
	}
	return Event{
		PositionID: positionID,
		Type:       typ,
		Payload:    raw,
	}, nil
}

// OpenedPayload creates a position. Orphaned is set on synthetic opens the
// reconciliation engine emits for remote-only exposure.
type OpenedPayload struct {
	Symbol          string            `json:"symbol"`
	Side            Side              `json:"side"`
	EntryPrice      decimal.Decimal   `json:"entry_price"`
	Amount          decimal.Decimal   `json:"amount"`
	StopPrice       *decimal.Decimal  `json:"stop_price,omitempty"`
	TakeProfitPrice *decimal.Decimal  `json:"take_profit_price,omitempty"`
	Owner           string            `json:"owner"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Orphaned        bool              `json:"orphaned,omitempty"`
}

// AdjustedPayload changes a position's amount by Delta. Optional stop and
// take-profit levels replace the current ones when present.
type AdjustedPayload struct {
	Delta           decimal.Decimal  `json:"delta"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"take_profit_price,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// StopTriggeredPayload records that protective logic began closing the
// position at the given price.
type StopTriggeredPayload struct {
	StopPrice decimal.Decimal `json:"stop_price"`
}

// ClosedPayload terminates a position with its realized profit and loss.
type ClosedPayload struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// ReconciledPayload records the resolution of an orphaned position.
type ReconciledPayload struct {
	Note string `json:"note"`
}

// OrphanMarkedPayload explains why automatic reconciliation gave up on a
// position.
type OrphanMarkedPayload struct {
	Reason string `json:"reason"`
}
