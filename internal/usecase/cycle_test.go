package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/repository"
	"AutoTrader/internal/services/emergency"
	"AutoTrader/internal/services/fusion"
	"AutoTrader/internal/services/verify"
	"AutoTrader/pkg/kv"
	"AutoTrader/pkg/metrics"
)

type fixedEngine struct {
	vote  models.EngineVote
	calls int32
}

func (e *fixedEngine) Name() string { return "fixed" }

func (e *fixedEngine) Evaluate(context.Context, *models.MarketSnapshot) (models.EngineVote, error) {
	atomic.AddInt32(&e.calls, 1)
	return e.vote, nil
}

// flatCandles serves n bars per timeframe, all closing at close, the last
// one in the current bucket.
type flatCandles struct {
	close float64
	age   time.Duration
}

func (c flatCandles) GetLatestNCandles(_ context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error) {
	end := time.Now().Add(-c.age).Truncate(tf.Duration())
	bars := make([]models.Candle, n)
	for i := range bars {
		bars[i] = models.Candle{
			Market: market,
			Bucket: end.Add(-time.Duration(n-1-i) * tf.Duration()),
			Open:   c.close,
			High:   c.close,
			Low:    c.close,
			Close:  c.close,
			Volume: 1,
		}
	}
	return bars, nil
}

func newCycles(t *testing.T, h *harness, engine service.Engine, candles flatCandles, emergencyOn bool) *Cycles {
	t.Helper()
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mem.Close() })

	loader := NewSnapshotLoader(candles, h.prices, nil, 2*time.Minute)
	fuser := fusion.New([]service.Engine{engine}, fusion.DefaultConfig(), nil)
	gate := verify.NewGate(nil, verify.Config{}, nil)
	guard := emergency.NewGuard(repository.NewKVEmergencyStore(mem), emergency.DefaultThresholds(), nil)
	return NewCycles(CyclesConfig{EmergencyEnabled: emergencyOn}, h.coord, loader, fuser, h.filter, gate, guard,
		h.positions, NewAuditor(nil, nil, nil), metrics.Noop{}, nil)
}

func buyVote(conf float64) *fixedEngine {
	return &fixedEngine{vote: models.EngineVote{Action: models.ActionBuy, Confidence: conf}}
}

func TestRunRegularOpensOnFusedBuy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	c := newCycles(t, h, buyVote(0.72), flatCandles{close: 100}, false)

	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.OriginFiltered, pos.Source)

	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ActionBuy, rec.Direction)
}

func TestRunRegularHoldPlacesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	c := newCycles(t, h, &fixedEngine{vote: models.EngineVote{Action: models.ActionHold}}, flatCandles{close: 100}, false)

	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))
	assert.Zero(t, atomic.LoadInt32(&h.exch.placed))
}

func TestRunRegularSellWithoutPositionIsNoAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	sell := &fixedEngine{vote: models.EngineVote{Action: models.ActionSell, Confidence: 0.9}}
	c := newCycles(t, h, sell, flatCandles{close: 100}, false)

	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))
	assert.Zero(t, atomic.LoadInt32(&h.exch.placed))
}

func TestRunRegularStaleCandlesSkipsQuietly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	engine := buyVote(0.9)
	c := newCycles(t, h, engine, flatCandles{close: 100, age: 3 * time.Hour}, false)

	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))
	assert.Zero(t, atomic.LoadInt32(&engine.calls))
	assert.Zero(t, atomic.LoadInt32(&h.exch.placed))
}

func TestRunRegularStaleTickAbstains(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	engine := buyVote(0.72)
	c := newCycles(t, h, engine, flatCandles{close: 100}, false)

	h.prices.mu.Lock()
	h.prices.age = 30 * time.Minute
	h.prices.mu.Unlock()

	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))
	assert.Zero(t, atomic.LoadInt32(&engine.calls))
	assert.Zero(t, atomic.LoadInt32(&h.exch.placed))

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestRunRegularForcedExitPreemptsFusion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	engine := buyVote(0.9)
	c := newCycles(t, h, engine, flatCandles{close: 100}, false)

	_, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginFiltered), nil)
	require.NoError(t, err)

	h.prices.set("KRW-BTC", 95.9)
	require.NoError(t, c.RunRegular(ctx, "KRW-BTC", time.Now()))

	assert.Zero(t, atomic.LoadInt32(&engine.calls))
	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)

	trades, _ := h.journal.Recent(ctx, "KRW-BTC", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, string(models.ExitHardStop), trades[0].Reason)
}

func TestRunTickEnforcesStops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	c := newCycles(t, h, buyVote(0.9), flatCandles{close: 100}, false)

	_, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginFiltered), nil)
	require.NoError(t, err)

	require.NoError(t, c.RunTick(ctx, "KRW-BTC", time.Now()))
	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)

	h.prices.set("KRW-BTC", 96.9)
	require.NoError(t, c.RunTick(ctx, "KRW-BTC", time.Now()))
	pos, err = h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestRunEmergencyCrashSellsBypassingFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	c := newCycles(t, h, buyVote(0.9), flatCandles{close: 100}, true)

	req := buyReq("KRW-BTC", time.Now(), models.OriginEmergency)
	req.Cadence = models.CadenceEmergency
	_, err := h.coord.Execute(ctx, req, nil)
	require.NoError(t, err)
	placed := atomic.LoadInt32(&h.exch.placed)

	h.prices.set("KRW-BTC", 97.2)
	require.NoError(t, c.RunEmergency(ctx, "KRW-BTC", time.Now()))

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Equal(t, placed+1, atomic.LoadInt32(&h.exch.placed))

	// The filter never sees emergency trades.
	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Still falling with no position: no buy trigger.
	require.NoError(t, c.RunEmergency(ctx, "KRW-BTC", time.Now()))
	assert.Equal(t, placed+1, atomic.LoadInt32(&h.exch.placed))
}

func TestRunEmergencyDisabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	c := newCycles(t, h, buyVote(0.9), flatCandles{close: 100}, false)

	h.prices.set("KRW-BTC", 90)
	require.NoError(t, c.RunEmergency(ctx, "KRW-BTC", time.Now()))
	assert.Zero(t, atomic.LoadInt32(&h.exch.placed))
}
