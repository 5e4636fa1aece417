package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
)

func TestKeyedLockMutualExclusion(t *testing.T) {
	kl := NewKeyedLock(time.Second)
	ctx := context.Background()

	const workers = 10
	const iterations = 100

	counter := 0
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				err := kl.WithLock(ctx, "pos-1", func() error {
					counter++
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*iterations, counter)
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	kl := NewKeyedLock(100 * time.Millisecond)
	ctx := context.Background()

	releaseA, err := kl.Acquire(ctx, "pos-a")
	require.NoError(t, err)
	defer releaseA()

	// A held lock on pos-a must not delay pos-b at all.
	start := time.Now()
	releaseB, err := kl.Acquire(ctx, "pos-b")
	require.NoError(t, err)
	releaseB()
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestKeyedLockTimeoutReturnsBusy(t *testing.T) {
	kl := NewKeyedLock(50 * time.Millisecond)
	ctx := context.Background()

	release, err := kl.Acquire(ctx, "pos-1")
	require.NoError(t, err)
	defer release()

	_, err = kl.Acquire(ctx, "pos-1")
	require.ErrorIs(t, err, domain.ErrBusy)
}

func TestKeyedLockContextCancellation(t *testing.T) {
	kl := NewKeyedLock(10 * time.Second)

	release, err := kl.Acquire(context.Background(), "pos-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = kl.Acquire(ctx, "pos-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedLockReleaseIdempotent(t *testing.T) {
	kl := NewKeyedLock(time.Second)
	ctx := context.Background()

	release, err := kl.Acquire(ctx, "pos-1")
	require.NoError(t, err)

	release()
	release() // second call must not double-release the token

	again, err := kl.Acquire(ctx, "pos-1")
	require.NoError(t, err)
	again()
}

func TestKeyedLockEntriesGarbageCollected(t *testing.T) {
	kl := NewKeyedLock(time.Second)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		release, err := kl.Acquire(ctx, key)
		require.NoError(t, err)
		release()
	}

	assert.Equal(t, 0, kl.size())
}

func TestKeyedLockEntrySurvivesWaiter(t *testing.T) {
	kl := NewKeyedLock(time.Second)
	ctx := context.Background()

	release, err := kl.Acquire(ctx, "pos-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r2, err := kl.Acquire(ctx, "pos-1")
		if err != nil {
			t.Error(err)
			return
		}
		r2()
	}()

	// Give the waiter time to block, then hand over.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, kl.size())
	release()
	<-done

	assert.Equal(t, 0, kl.size())
}
