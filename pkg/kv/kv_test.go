package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := NewMemoryStore(WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Store{
		"memory": mem,
		"redis":  NewRedisStoreFromClient(client, "test"),
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
			v, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "1", string(v))

			require.NoError(t, s.Delete(ctx, "a"))
			_, err = s.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("v1"), time.Hour)
			require.NoError(t, err)
			assert.True(t, ok, "create when absent")

			ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("v2"), time.Hour)
			require.NoError(t, err)
			assert.False(t, ok, "create must fail when present")

			ok, err = s.CompareAndSwap(ctx, "k", []byte("stale"), []byte("v2"), time.Hour)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"), time.Hour)
			require.NoError(t, err)
			assert.True(t, ok)

			v, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(v))

			ok, err = s.CompareAndSwap(ctx, "k", []byte("v2"), nil, 0)
			require.NoError(t, err)
			assert.True(t, ok, "nil next deletes")
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, Key("position", "KRW-BTC"), []byte("x"), 0))
			require.NoError(t, s.Set(ctx, Key("position", "KRW-ETH"), []byte("y"), 0))
			require.NoError(t, s.Set(ctx, Key("signal", "KRW-BTC"), []byte("z"), 0))

			keys, err := s.Keys(ctx, "position:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"position:KRW-BTC", "position:KRW-ETH"}, keys)
		})
	}
}

func TestStoreLockIsOwnedByToken(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.TryLock(ctx, "lock:KRW-BTC", "owner-a", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.TryLock(ctx, "lock:KRW-BTC", "owner-b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Unlock(ctx, "lock:KRW-BTC", "owner-b"))
			ok, err = s.TryLock(ctx, "lock:KRW-BTC", "owner-b", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "foreign token must not release the lock")

			require.NoError(t, s.Unlock(ctx, "lock:KRW-BTC", "owner-a"))
			ok, err = s.TryLock(ctx, "lock:KRW-BTC", "owner-b", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithMemoryCleanup(0), WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "signal:KRW-BTC", []byte("rec"), 24*time.Hour))

	now = now.Add(23 * time.Hour)
	_, err := s.Get(ctx, "signal:KRW-BTC")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, "signal:KRW-BTC")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwapJSONConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMemoryCleanup(0))

	type rec struct{ N int }
	require.NoError(t, SwapJSON(ctx, s, "r", nil, rec{N: 1}, 0))

	var got rec
	raw, err := GetJSON(ctx, s, "r", &got)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)

	require.NoError(t, SwapJSON(ctx, s, "r", raw, rec{N: 2}, 0))
	assert.ErrorIs(t, SwapJSON(ctx, s, "r", raw, rec{N: 3}, 0), ErrConflict)
}
