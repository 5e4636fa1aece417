// Package domain defines the core entities of the position state engine:
// positions, the events they are derived from, and the interfaces the
// storage and transport layers implement.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position's exposure.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus tracks the lifecycle of a position. Transitions only follow
// open -> closing -> closed, or open/closing -> orphaned. closed and orphaned
// are terminal.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosing  PositionStatus = "closing"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusOrphaned PositionStatus = "orphaned"
)

// Terminal reports whether no further state transitions are allowed.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusOrphaned
}

// ReconciliationOwner is the owner recorded on positions the reconciliation
// engine synthesizes for exposure that exists on the exchange but not locally.
const ReconciliationOwner = "reconciliation"

// Position is the materialized view of one trading exposure. It is always
// derivable by folding the position's events in event_id order; the stored
// row is a cache, never an independent source of truth.
type Position struct {
	ID              string            `json:"position_id"`
	Symbol          string            `json:"symbol"`
	Side            Side              `json:"side"`
	EntryPrice      decimal.Decimal   `json:"entry_price"`
	Amount          decimal.Decimal   `json:"amount"`
	StopPrice       *decimal.Decimal  `json:"stop_price,omitempty"`
	TakeProfitPrice *decimal.Decimal  `json:"take_profit_price,omitempty"`
	Status          PositionStatus    `json:"status"`
	RealizedPnL     *decimal.Decimal  `json:"realized_pnl,omitempty"`
	Owner           string            `json:"owner"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	OpenedAt        time.Time         `json:"opened_at"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
}

// Clone returns a deep copy. Callers receive Position values as snapshots and
// must never observe later mutations through shared maps.
func (p Position) Clone() Position {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.StopPrice != nil {
		v := *p.StopPrice
		out.StopPrice = &v
	}
	if p.TakeProfitPrice != nil {
		v := *p.TakeProfitPrice
		out.TakeProfitPrice = &v
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		out.RealizedPnL = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Filter narrows List queries. Zero values mean "any"; Statuses nil means all
// statuses.
type Filter struct {
	Symbol   string
	Owner    string
	Statuses []PositionStatus
	Limit    int
	Offset   int
}
