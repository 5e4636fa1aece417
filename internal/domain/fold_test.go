package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, id int64, positionID string, typ EventType, payload any) Event {
	t.Helper()
	ev, err := NewEvent(positionID, typ, payload)
	require.NoError(t, err)
	ev.ID = id
	ev.RecordedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second)
	return ev
}

func openedEvent(t *testing.T, id int64, positionID string) Event {
	t.Helper()
	return mustEvent(t, id, positionID, EventOpened, OpenedPayload{
		Symbol:     "BTC/USDT",
		Side:       SideLong,
		EntryPrice: decimal.RequireFromString("64250.5"),
		Amount:     decimal.RequireFromString("0.01"),
		Owner:      "bot_a",
		Metadata:   map[string]string{"signal": "breakout"},
	})
}

func TestFoldOpened(t *testing.T) {
	ev := openedEvent(t, 1, "BTC-USDT_long_1_a1b2c3d4")

	pos, err := Fold(nil, ev)
	require.NoError(t, err)

	assert.Equal(t, "BTC-USDT_long_1_a1b2c3d4", pos.ID)
	assert.Equal(t, PositionStatusOpen, pos.Status)
	assert.Equal(t, "bot_a", pos.Owner)
	assert.True(t, pos.Amount.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, ev.RecordedAt, pos.OpenedAt)
	assert.Nil(t, pos.ClosedAt)
	assert.Nil(t, pos.RealizedPnL)
}

func TestFoldOpenedTwiceRejected(t *testing.T) {
	ev := openedEvent(t, 1, "p1")
	pos, err := Fold(nil, ev)
	require.NoError(t, err)

	_, err = Fold(&pos, openedEvent(t, 2, "p1"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFoldUnknownPosition(t *testing.T) {
	ev := mustEvent(t, 1, "ghost", EventClosed, ClosedPayload{RealizedPnL: decimal.Zero})
	_, err := Fold(nil, ev)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFoldAdjustThenClose(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)

	pos, err = Fold(&pos, mustEvent(t, 2, "p1", EventAdjusted, AdjustedPayload{
		Delta: decimal.RequireFromString("0.005"),
	}))
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(decimal.RequireFromString("0.015")), "amount %s", pos.Amount)

	pnl := decimal.RequireFromString("12.50")
	closed := mustEvent(t, 3, "p1", EventClosed, ClosedPayload{RealizedPnL: pnl})
	pos, err = Fold(&pos, closed)
	require.NoError(t, err)

	assert.Equal(t, PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.RealizedPnL)
	assert.True(t, pos.RealizedPnL.Equal(pnl))
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, closed.RecordedAt, *pos.ClosedAt)
}

func TestFoldDoubleCloseRejected(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)
	pos, err = Fold(&pos, mustEvent(t, 2, "p1", EventClosed, ClosedPayload{RealizedPnL: decimal.Zero}))
	require.NoError(t, err)

	_, err = Fold(&pos, mustEvent(t, 3, "p1", EventClosed, ClosedPayload{RealizedPnL: decimal.Zero}))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFoldAdjustToNonPositiveRejected(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)

	_, err = Fold(&pos, mustEvent(t, 2, "p1", EventAdjusted, AdjustedPayload{
		Delta: decimal.RequireFromString("-0.01"),
	}))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFoldStopTriggeredThenClose(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)

	pos, err = Fold(&pos, mustEvent(t, 2, "p1", EventStopTriggered, StopTriggeredPayload{
		StopPrice: decimal.RequireFromString("62000"),
	}))
	require.NoError(t, err)
	assert.Equal(t, PositionStatusClosing, pos.Status)

	// A second stop trigger is invalid once the position is already closing.
	_, err = Fold(&pos, mustEvent(t, 3, "p1", EventStopTriggered, StopTriggeredPayload{
		StopPrice: decimal.RequireFromString("61000"),
	}))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	pos, err = Fold(&pos, mustEvent(t, 4, "p1", EventClosed, ClosedPayload{
		RealizedPnL: decimal.RequireFromString("-22.5"),
	}))
	require.NoError(t, err)
	assert.Equal(t, PositionStatusClosed, pos.Status)
}

func TestFoldOrphanMarkedIsTerminal(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)

	pos, err = Fold(&pos, mustEvent(t, 2, "p1", EventOrphanMarked, OrphanMarkedPayload{
		Reason: "no mark price for realized pnl",
	}))
	require.NoError(t, err)
	assert.Equal(t, PositionStatusOrphaned, pos.Status)
	assert.Equal(t, "no mark price for realized pnl", pos.Metadata["orphan_reason"])

	_, err = Fold(&pos, mustEvent(t, 3, "p1", EventClosed, ClosedPayload{RealizedPnL: decimal.Zero}))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Resolution is recorded without leaving the terminal status.
	pos, err = Fold(&pos, mustEvent(t, 4, "p1", EventReconciled, ReconciledPayload{
		Note: "operator confirmed manual close on exchange",
	}))
	require.NoError(t, err)
	assert.Equal(t, PositionStatusOrphaned, pos.Status)
	assert.Equal(t, "operator confirmed manual close on exchange", pos.Metadata["resolution"])
}

func TestFoldSyntheticOrphanOpen(t *testing.T) {
	ev := mustEvent(t, 1, "r1", EventOpened, OpenedPayload{
		Symbol:     "ETH/USDT",
		Side:       SideShort,
		EntryPrice: decimal.RequireFromString("3450"),
		Amount:     decimal.RequireFromString("1.2"),
		Owner:      ReconciliationOwner,
		Orphaned:   true,
	})

	pos, err := Fold(nil, ev)
	require.NoError(t, err)
	assert.Equal(t, PositionStatusOrphaned, pos.Status)
	assert.Equal(t, ReconciliationOwner, pos.Owner)
}

func TestFoldDoesNotMutateCurrent(t *testing.T) {
	pos, err := Fold(nil, openedEvent(t, 1, "p1"))
	require.NoError(t, err)
	before := pos.Amount

	_, err = Fold(&pos, mustEvent(t, 2, "p1", EventAdjusted, AdjustedPayload{
		Delta: decimal.RequireFromString("0.99"),
	}))
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(before))
	assert.Equal(t, "breakout", pos.Metadata["signal"])
}
