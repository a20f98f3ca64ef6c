package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/kv"
)

// Locker grants per-market exclusivity. Lock waits at most wait and returns
// models.ErrLockContention when the market stays busy, or the context error
// when the caller gave up first.
type Locker interface {
	Lock(ctx context.Context, market string, wait time.Duration) (unlock func(), err error)
}

// LocalLocker serializes markets within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(market string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[market]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[market] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, market string, wait time.Duration) (func(), error) {
	ch := l.slot(market)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: waited %s: %w", market, wait, models.ErrLockContention)
	}
}

// KVLocker takes the lock in the shared store so several workers can run
// against the same markets. The TTL bounds how long a crashed holder blocks
// the market.
type KVLocker struct {
	store kv.Store
	ttl   time.Duration
	poll  time.Duration
}

func NewKVLocker(store kv.Store, ttl time.Duration) *KVLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &KVLocker{store: store, ttl: ttl, poll: 20 * time.Millisecond}
}

func (l *KVLocker) Lock(ctx context.Context, market string, wait time.Duration) (func(), error) {
	key := kv.Key("lock", market)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.store.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", market, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = l.store.Unlock(uctx, key, token)
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: waited %s: %w", market, wait, models.ErrLockContention)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
