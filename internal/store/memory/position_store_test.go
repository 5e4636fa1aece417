package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
)

func applyOpened(t *testing.T, store *PositionStore, id string, eventID int64, openedAt time.Time) {
	t.Helper()
	ev, err := domain.NewEvent(id, domain.EventOpened, domain.OpenedPayload{
		Symbol:     "BTC-USD",
		Side:       domain.SideLong,
		EntryPrice: decimal.NewFromInt(50000),
		Amount:     decimal.NewFromInt(1),
		Owner:      "momentum-agent",
	})
	require.NoError(t, err)
	ev.ID = eventID
	ev.RecordedAt = openedAt

	_, err = store.ApplyEvent(context.Background(), ev)
	require.NoError(t, err)
}

func TestPositionStoreListOrdersByOpenTime(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	// The sequence segment of an id is unpadded, so a lexicographic sort
	// would put seq 10 before seq 2. List must order by open time instead.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	applyOpened(t, store, "BTC-USD_long_10_bbbb", 2, base.Add(time.Hour))
	applyOpened(t, store, "BTC-USD_long_2_aaaa", 1, base)

	out, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "BTC-USD_long_2_aaaa", out[0].ID)
	assert.Equal(t, "BTC-USD_long_10_bbbb", out[1].ID)
}

func TestPositionStoreListTiebreaksOnID(t *testing.T) {
	ctx := context.Background()
	store := NewPositionStore()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	applyOpened(t, store, "ETH-USD_long_4_zzzz", 4, at)
	applyOpened(t, store, "ETH-USD_long_3_aaaa", 3, at)

	out, err := store.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ETH-USD_long_3_aaaa", out[0].ID)
	assert.Equal(t, "ETH-USD_long_4_zzzz", out[1].ID)
}
