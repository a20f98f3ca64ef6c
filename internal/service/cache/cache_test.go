package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/pkg/kv"
)

func TestKVCacheRoundTripAndExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0), kv.WithMemoryClock(func() time.Time { return now }))
	defer mem.Close()
	c := NewKVCache(mem, "")
	ctx := context.Background()

	_, ok, err := c.GetBytes(ctx, "candles:KRW-BTC")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetBytes(ctx, "candles:KRW-BTC", []byte(`{"n":1}`), 10*time.Second))
	b, ok, err := c.GetBytes(ctx, "candles:KRW-BTC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"n":1}`, string(b))

	now = now.Add(11 * time.Second)
	_, ok, err = c.GetBytes(ctx, "candles:KRW-BTC")
	require.NoError(t, err)
	assert.False(t, ok)
}
