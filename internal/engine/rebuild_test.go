package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
	"positionengine/internal/store/memory"
)

func TestRebuildStoreReproducesState(t *testing.T) {
	ctx := context.Background()
	svc, log, store := newTestService(t)

	p1 := openTestPosition(t, svc)
	_, err := svc.Adjust(ctx, p1.ID, decimal.RequireFromString("-0.5"), "scale out")
	require.NoError(t, err)

	p2, err := svc.Open(ctx, OpenRequest{
		Symbol:     "ETH-USD",
		Side:       domain.SideShort,
		EntryPrice: decimal.NewFromInt(3000),
		Amount:     decimal.NewFromInt(4),
		Owner:      "mean-revert-agent",
	})
	require.NoError(t, err)
	_, err = svc.Close(ctx, p2.ID, decimal.NewFromInt(-120))
	require.NoError(t, err)

	before, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)

	require.NoError(t, RebuildStore(ctx, log, store, discardLogger()))

	after, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Replay is deterministic: a second rebuild changes nothing.
	require.NoError(t, RebuildStore(ctx, log, store, discardLogger()))
	again, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestRebuildStoreHealsMissedApply(t *testing.T) {
	ctx := context.Background()
	svc, log, store := newTestService(t)

	pos := openTestPosition(t, svc)

	// Simulate a crash between durable append and store apply: the close hit
	// the log but never reached the materialized view.
	ev, err := domain.NewEvent(pos.ID, domain.EventClosed, domain.ClosedPayload{
		RealizedPnL: decimal.NewFromInt(300),
	})
	require.NoError(t, err)
	_, err = log.Append(ctx, ev)
	require.NoError(t, err)

	stale, err := store.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stale.Status)

	require.NoError(t, RebuildStore(ctx, log, store, discardLogger()))

	healed, err := store.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, healed.Status)
	require.NotNil(t, healed.RealizedPnL)
	assert.Equal(t, "300", healed.RealizedPnL.String())
}

func TestRebuildStoreEmptyLog(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventLog()
	store := memory.NewPositionStore()

	require.NoError(t, RebuildStore(ctx, log, store, discardLogger()))

	positions, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestRebuildThenReopenSequence(t *testing.T) {
	ctx := context.Background()
	svc, log, store := newTestService(t)

	pos := openTestPosition(t, svc)
	_, err := svc.Close(ctx, pos.ID, decimal.Zero)
	require.NoError(t, err)

	// A fresh process seeds its generator from the rebuilt log and never
	// reissues an already-used sequence number.
	require.NoError(t, RebuildStore(ctx, log, store, discardLogger()))

	ids := NewIDGenerator()
	require.NoError(t, ids.Seed(ctx, log))
	svc2 := NewService(log, store, ids, NewKeyedLock(time.Second), nil, nil, discardLogger())

	next, err := svc2.Open(ctx, OpenRequest{
		Symbol:     "BTC-USD",
		Side:       domain.SideLong,
		EntryPrice: decimal.NewFromInt(51000),
		Amount:     decimal.NewFromInt(1),
		Owner:      "momentum-agent",
	})
	require.NoError(t, err)
	assert.NotEqual(t, pos.ID, next.ID)
	assert.Contains(t, next.ID, "_3_")
}
