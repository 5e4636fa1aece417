package engine

import (
	"context"
	"sync"
	"time"

	"positionengine/internal/domain"
)

// defaultAcquireTimeout bounds how long a caller waits for a contended
// position before receiving ErrBusy.
const defaultAcquireTimeout = 2 * time.Second

// KeyedLock serializes work per key while letting unrelated keys proceed in
// parallel. Lock entries are created lazily on first use and garbage
// collected as soon as no caller holds or waits for them, so the map does not
// grow with the lifetime set of position ids.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	timeout time.Duration
}

type lockEntry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewKeyedLock creates a KeyedLock. A non-positive timeout falls back to the
// default.
func NewKeyedLock(timeout time.Duration) *KeyedLock {
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	return &KeyedLock{
		entries: make(map[string]*lockEntry),
		timeout: timeout,
	}
}

// Acquire obtains exclusive ownership of key. On success it returns a release
// function that is safe to call more than once. When the lock cannot be
// acquired within the configured timeout it returns ErrBusy; when ctx is
// cancelled first it returns the context error. Either way the caller's
// operation has had no side effects.
func (kl *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	kl.mu.Lock()
	e, ok := kl.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		kl.entries[key] = e
	}
	e.refs++
	kl.mu.Unlock()

	timer := time.NewTimer(kl.timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
	case <-timer.C:
		kl.unref(key, e)
		return nil, domain.ErrBusy
	case <-ctx.Done():
		kl.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-e.ch
			kl.unref(key, e)
		})
	}
	return release, nil
}

// WithLock runs fn while holding the lock for key.
func (kl *KeyedLock) WithLock(ctx context.Context, key string, fn func() error) error {
	release, err := kl.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (kl *KeyedLock) unref(key string, e *lockEntry) {
	kl.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(kl.entries, key)
	}
	kl.mu.Unlock()
}

// size returns the number of live lock entries. Test hook.
func (kl *KeyedLock) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
