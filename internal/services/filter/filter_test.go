package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/repository"
	"AutoTrader/pkg/kv"
)

func newFilter(t *testing.T, now *time.Time) (*Filter, *repository.KVSignalStore) {
	t.Helper()
	clock := func() time.Time { return *now }
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0), kv.WithMemoryClock(clock))
	t.Cleanup(func() { _ = mem.Close() })
	store := repository.NewKVSignalStore(mem).WithClock(clock)
	return New(store, DefaultConfig(), nil).WithClock(clock), store
}

func TestHoldIsNeverAllowed(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, store := newFilter(t, &now)

	v, err := f.Apply(context.Background(), "KRW-BTC", models.ActionHold, 0.99)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.VerdictHold, v.Kind)

	rec, err := store.Get(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// BUY 0.72 allowed, BUY 0.75 denied, BUY 0.85 allowed, SELL 0.60 allowed.
func TestFilterSequence(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, store := newFilter(t, &now)

	steps := []struct {
		action  models.Action
		conf    float64
		allowed bool
		kind    models.VerdictKind
		stored  models.SignalRecord
	}{
		{models.ActionBuy, 0.72, true, models.VerdictFirst, models.SignalRecord{Direction: models.ActionBuy, Confidence: 0.72}},
		{models.ActionBuy, 0.75, false, models.VerdictContinuation, models.SignalRecord{Direction: models.ActionBuy, Confidence: 0.72}},
		{models.ActionBuy, 0.85, true, models.VerdictEscalation, models.SignalRecord{Direction: models.ActionBuy, Confidence: 0.85}},
		{models.ActionSell, 0.60, true, models.VerdictReversal, models.SignalRecord{Direction: models.ActionSell, Confidence: 0.60}},
	}
	for i, s := range steps {
		now = now.Add(time.Minute)
		v, err := f.Apply(ctx, "KRW-BTC", s.action, s.conf)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.allowed, v.Allowed, "step %d", i)
		assert.Equal(t, s.kind, v.Kind, "step %d", i)

		rec, err := store.Get(ctx, "KRW-BTC")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, s.stored.Direction, rec.Direction, "step %d", i)
		assert.Equal(t, s.stored.Confidence, rec.Confidence, "step %d", i)
	}
}

func TestHighConfidenceContinuationIsRedundant(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, _ := newFilter(t, &now)

	_, err := f.Apply(ctx, "KRW-ETH", models.ActionSell, 0.90)
	require.NoError(t, err)

	v, err := f.Apply(ctx, "KRW-ETH", models.ActionSell, 0.99)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.VerdictRedundant, v.Kind)
}

func TestRecordExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, _ := newFilter(t, &now)

	_, err := f.Apply(ctx, "KRW-XRP", models.ActionBuy, 0.9)
	require.NoError(t, err)

	now = now.Add(24*time.Hour + time.Second)
	v, err := f.Apply(ctx, "KRW-XRP", models.ActionBuy, 0.5)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, models.VerdictFirst, v.Kind)
}

func TestShouldAllowDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, store := newFilter(t, &now)

	v, err := f.ShouldAllow(ctx, "KRW-BTC", models.ActionBuy, 0.7)
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	rec, err := store.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, rec, "only Record mutates the store")
}

func TestRecordConflictsWithConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f, _ := newFilter(t, &now)

	v1, err := f.ShouldAllow(ctx, "KRW-BTC", models.ActionBuy, 0.7)
	require.NoError(t, err)
	v2, err := f.ShouldAllow(ctx, "KRW-BTC", models.ActionSell, 0.7)
	require.NoError(t, err)

	require.NoError(t, f.Record(ctx, "KRW-BTC", models.ActionBuy, 0.7, v1))
	assert.ErrorIs(t, f.Record(ctx, "KRW-BTC", models.ActionSell, 0.7, v2), kv.ErrConflict)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*models.SignalRecord, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Swap(context.Context, *models.SignalRecord, *models.SignalRecord) error {
	return errors.New("connection refused")
}
func (failingStore) Delete(context.Context, string) error { return nil }

func TestStoreFailureFailsClosed(t *testing.T) {
	f := New(failingStore{}, DefaultConfig(), nil)

	v, err := f.ShouldAllow(context.Background(), "KRW-BTC", models.ActionBuy, 0.99)
	assert.Error(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.VerdictStoreError, v.Kind)
}
