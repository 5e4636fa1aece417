package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventLog is the append-only, durable record of every state transition and
// the single source of truth for position state. Append must not return until
// the event would survive an immediate process crash. Assignment of event ids
// is the log's only global critical section; appends for unrelated positions
// may otherwise proceed concurrently.
type EventLog interface {
	// Append persists the event, assigns its id and recorded_at, and returns
	// the completed event.
	Append(ctx context.Context, ev Event) (Event, error)
	// Replay returns all events for one position in event id order.
	Replay(ctx context.Context, positionID string) ([]Event, error)
	// ReplayAll returns every event in event id order. Used only by the store
	// rebuild path and the reconciliation engine.
	ReplayAll(ctx context.Context) ([]Event, error)
	// ReplayRange returns up to limit events with id >= fromID, in order.
	ReplayRange(ctx context.Context, fromID int64, limit int) ([]Event, error)
	// LastSequence returns the highest assigned event id, or 0 when empty.
	LastSequence(ctx context.Context) (int64, error)
}

// PositionStore is the derived, key-indexed view of the event log. It may be
// deleted and rebuilt from replay at any time without information loss.
type PositionStore interface {
	Get(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, f Filter) ([]Position, error)
	// ApplyEvent folds the event into the stored position and returns the
	// updated snapshot. It rejects events that violate the state machine.
	ApplyEvent(ctx context.Context, ev Event) (Position, error)
	// Reset removes all materialized rows. Only the rebuild path calls this.
	Reset(ctx context.Context) error
}

// PriceSource provides the best-available mark price for a symbol. The
// reconciliation engine uses it to compute realized PnL for positions that
// were closed externally.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans position change notifications out to external subscribers
// (dashboards, chat bridges). Delivery is best-effort; publish failures must
// never fail the mutation that produced them.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RemotePosition is one open position as reported by the exchange. The
// exchange nets exposure per (symbol, side) and knows nothing about owners,
// stops or metadata.
type RemotePosition struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// Balance is the account balance reported by the exchange.
type Balance struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// ExchangeAdapter is the engine's read-only window onto exchange ground
// truth. Implementations must be rate-limit aware; the reconciliation engine
// treats a failed fetch as a failed cycle and waits for the next interval
// rather than retrying blindly.
type ExchangeAdapter interface {
	FetchOpenPositions(ctx context.Context) ([]RemotePosition, error)
	FetchBalance(ctx context.Context) (Balance, error)
}
