package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
	"positionengine/internal/store/memory"
)

func TestIDGeneratorFailClosedUntilSeeded(t *testing.T) {
	gen := NewIDGenerator()

	_, err := gen.NextID("BTC-USD", domain.SideLong)
	require.ErrorIs(t, err, domain.ErrSequenceUnavailable)

	require.NoError(t, gen.Seed(context.Background(), memory.NewEventLog()))

	id, err := gen.NextID("BTC-USD", domain.SideLong)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "BTC-USD_long_1_"), "id %q", id)
}

func TestIDGeneratorResumesAfterHighestEvent(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventLog()
	for range 5 {
		ev, err := domain.NewEvent("p1", domain.EventAdjusted, domain.AdjustedPayload{})
		require.NoError(t, err)
		_, err = log.Append(ctx, ev)
		require.NoError(t, err)
	}

	gen := NewIDGenerator()
	require.NoError(t, gen.Seed(ctx, log))

	id, err := gen.NextID("ETH-USD", domain.SideShort)
	require.NoError(t, err)
	assert.Contains(t, id, "_short_6_")
}

func TestIDGeneratorUniqueUnderConcurrency(t *testing.T) {
	gen := NewIDGenerator()
	require.NoError(t, gen.Seed(context.Background(), memory.NewEventLog()))

	const workers = 20
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id, err := gen.NextID("BTC-USD", domain.SideLong)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSanitizeSymbol(t *testing.T) {
	assert.Equal(t, "BTC-USDT", sanitizeSymbol("BTC/USDT"))
	assert.Equal(t, "BTC-USD-PERP", sanitizeSymbol("BTC:USD PERP"))
	assert.Equal(t, "BTC-USD", sanitizeSymbol("BTC_USD"))
}
