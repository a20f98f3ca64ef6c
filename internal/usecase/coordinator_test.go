package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/repository"
	"AutoTrader/internal/service/exchange"
	"AutoTrader/internal/services/filter"
	"AutoTrader/internal/services/risk"
	"AutoTrader/pkg/kv"
	"AutoTrader/pkg/metrics"
)

type prices struct {
	mu  sync.Mutex
	m   map[string]float64
	age time.Duration
}

func (p *prices) set(market string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[market] = v
}

func (p *prices) LastTick(_ context.Context, market string) (models.Tick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.Tick{Market: market, Price: p.m[market], Timestamp: time.Now().Add(-p.age)}, nil
}

// countingExchange wraps the paper exchange so tests can inject failures.
type countingExchange struct {
	*exchange.Paper
	placed     int32
	placeErr   error
	lostReply  bool
	lookupDown int32
	lookups    int32
	// hang makes PlaceOrder wait for its context to expire.
	hang bool
	// delay slows every fill.
	delay time.Duration
}

func (e *countingExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	atomic.AddInt32(&e.placed, 1)
	if e.placeErr != nil {
		return nil, e.placeErr
	}
	if e.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	fill, err := e.Paper.PlaceOrder(ctx, req)
	if err == nil && e.lostReply {
		return nil, service.ErrAmbiguous
	}
	return fill, err
}

func (e *countingExchange) LookupOrder(ctx context.Context, market, id string) (*models.Fill, error) {
	atomic.AddInt32(&e.lookups, 1)
	if atomic.AddInt32(&e.lookupDown, -1) >= 0 {
		return nil, errors.New("exchange unreachable")
	}
	return e.Paper.LookupOrder(ctx, market, id)
}

type harness struct {
	coord     *Coordinator
	exch      *countingExchange
	prices    *prices
	positions *repository.KVPositionStore
	signals   *repository.KVSignalStore
	orders    *repository.KVOrderStore
	filter    *filter.Filter
	journal   *memJournal
}

type memJournal struct {
	mu     sync.Mutex
	trades []models.ClosedTrade
}

func (j *memJournal) RecordClosed(_ context.Context, t models.ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) Recent(context.Context, string, int) ([]models.ClosedTrade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.ClosedTrade(nil), j.trades...), nil
}

func newHarness(t *testing.T, cfg CoordinatorConfig) *harness {
	t.Helper()
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mem.Close() })

	px := &prices{m: map[string]float64{"KRW-BTC": 100, "KRW-ETH": 50}}
	exch := &countingExchange{Paper: exchange.NewPaper(px, 0, 1_000_000)}
	h := &harness{
		exch:      exch,
		prices:    px,
		positions: repository.NewKVPositionStore(mem),
		signals:   repository.NewKVSignalStore(mem),
		orders:    repository.NewKVOrderStore(mem, time.Hour),
		journal:   &memJournal{},
	}
	h.filter = filter.New(h.signals, filter.DefaultConfig(), nil)

	if cfg.TradeAmount == 0 {
		cfg.TradeAmount = 10000
	}
	if cfg.LockWait == 0 {
		cfg.LockWait = time.Second
	}
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = time.Second
	}
	h.coord = NewCoordinator(cfg, NewLocalLocker(), h.positions, h.orders, h.journal, exch, h.filter,
		risk.New(h.positions, risk.DefaultConfig(), nil), NewAuditor(nil, nil, nil), metrics.Noop{}, nil)
	return h
}

func buyReq(market string, at time.Time, origin models.Origin) models.TradeRequest {
	return models.TradeRequest{
		Market: market, Side: models.ActionBuy, Origin: origin, Cadence: models.CadenceRegular,
		Confidence: 0.72, Reason: "test", DecidedAt: at,
	}
}

func TestExecuteBuyOpensPositionAndRecordsSignal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	at := time.Now()

	v, err := h.filter.ShouldAllow(ctx, "KRW-BTC", models.ActionBuy, 0.72)
	require.NoError(t, err)
	require.True(t, v.Allowed)

	order, err := h.coord.Execute(ctx, buyReq("KRW-BTC", at, models.OriginFiltered), &v)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, order.Status)

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionOpen, pos.State)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.InDelta(t, 96.0, pos.StopLossPrice, 1e-9)

	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ActionBuy, rec.Direction)
	assert.Equal(t, 0.72, rec.Confidence)
}

func TestEmergencyBuyLeavesSignalHistoryAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})

	req := buyReq("KRW-BTC", time.Now(), models.OriginEmergency)
	req.Cadence = models.CadenceEmergency
	_, err := h.coord.Execute(ctx, req, nil)
	require.NoError(t, err)

	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestReplayDoesNotFillTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	req := buyReq("KRW-BTC", time.Now(), models.OriginEmergency)

	first, err := h.coord.Execute(ctx, req, nil)
	require.NoError(t, err)
	second, err := h.coord.Execute(ctx, req, nil)
	require.NoError(t, err)

	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)
	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
}

func TestFailedOrderMutatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{OrderRetries: 2})
	h.exch.placeErr = errors.New("connection reset")

	v, err := h.filter.ShouldAllow(ctx, "KRW-BTC", models.ActionBuy, 0.9)
	require.NoError(t, err)

	order, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginFiltered), &v)
	require.ErrorIs(t, err, models.ErrOrderFailed)
	assert.Equal(t, models.OrderFailed, order.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&h.exch.placed))

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)
	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRejectionIsNotRetried(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{OrderRetries: 2})
	h.exch.placeErr = service.ErrRejected

	_, err := h.coord.Execute(context.Background(), buyReq("KRW-BTC", time.Now(), models.OriginEmergency), nil)
	require.ErrorIs(t, err, models.ErrOrderFailed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
}

func TestOpenPositionCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{MaxOpenPositions: 1})

	_, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginEmergency), nil)
	require.NoError(t, err)

	_, err = h.coord.Execute(ctx, buyReq("KRW-ETH", time.Now(), models.OriginEmergency), nil)
	assert.ErrorIs(t, err, models.ErrMaxPositions)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
}

func TestConcurrentOpensExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	base := time.Now()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := buyReq("KRW-BTC", base.Add(time.Duration(i)*time.Millisecond), models.OriginEmergency)
			_, errs[i] = h.coord.Execute(ctx, req, nil)
		}(i)
	}
	wg.Wait()

	ok, refused := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrPositionExists):
			refused++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, refused)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
}

func TestSellWithoutPosition(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	req := buyReq("KRW-BTC", time.Now(), models.OriginFiltered)
	req.Side = models.ActionSell
	_, err := h.coord.Execute(context.Background(), req, nil)
	assert.ErrorIs(t, err, models.ErrNoPosition)

	req.Side = models.ActionHold
	_, err = h.coord.Execute(context.Background(), req, nil)
	assert.ErrorIs(t, err, models.ErrHoldDecision)
}

func TestAmbiguousBuyIsReconciledBeforeNextAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})
	h.exch.lostReply = true
	h.exch.lookupDown = 1

	v, err := h.filter.ShouldAllow(ctx, "KRW-BTC", models.ActionBuy, 0.72)
	require.NoError(t, err)

	order, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginFiltered), &v)
	require.ErrorIs(t, err, models.ErrOrderUnknown)
	assert.Equal(t, models.OrderPending, order.Status)

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionOpening, pos.State)

	pending, err := h.orders.Pending(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pending)

	h.exch.lostReply = false
	require.NoError(t, h.coord.Reconcile(ctx, "KRW-BTC"))

	pos, err = h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, pos.State)
	assert.Equal(t, 100.0, pos.EntryPrice)

	rec, err := h.signals.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ActionBuy, rec.Direction)

	pending, err = h.orders.Pending(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
}

func TestOpenPositionCapHoldsAcrossMarkets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{MaxOpenPositions: 1})
	h.exch.delay = 50 * time.Millisecond

	markets := []string{"KRW-BTC", "KRW-ETH"}
	errs := make([]error, len(markets))
	var wg sync.WaitGroup
	for i, m := range markets {
		wg.Add(1)
		go func(i int, m string) {
			defer wg.Done()
			_, errs[i] = h.coord.Execute(ctx, buyReq(m, time.Now(), models.OriginEmergency), nil)
		}(i, m)
	}
	wg.Wait()

	ok, capped := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrMaxPositions):
			capped++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, capped)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))

	all, err := h.positions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubmitTimeoutLeavesOrderPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{OrderTimeout: 30 * time.Millisecond})
	clock := time.Now()
	h.coord.WithClock(func() time.Time { return clock })
	h.exch.hang = true

	order, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginEmergency), nil)
	require.ErrorIs(t, err, models.ErrOrderUnknown)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.lookups))

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionOpening, pos.State)

	// The next action reads the exchange first and stays blocked while the
	// order could still land.
	h.exch.hang = false
	_, err = h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now().Add(time.Second), models.OriginEmergency), nil)
	require.ErrorIs(t, err, models.ErrNeedsReconcile)
	assert.EqualValues(t, 2, atomic.LoadInt32(&h.exch.lookups))
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.exch.placed))

	// Once the window has passed with no record, the order is failed and
	// the market frees up.
	clock = clock.Add(time.Minute)
	_, err = h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now().Add(2*time.Second), models.OriginEmergency), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&h.exch.lookups))

	failed, err := h.orders.Get(ctx, order.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, failed.Status)

	pos, err = h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionOpen, pos.State)
}

func TestEnforceRiskForcesExit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, CoordinatorConfig{})

	_, err := h.coord.Execute(ctx, buyReq("KRW-BTC", time.Now(), models.OriginEmergency), nil)
	require.NoError(t, err)

	ev, order, err := h.coord.EnforceRisk(ctx, "KRW-BTC", 97.5, time.Now())
	require.NoError(t, err)
	assert.False(t, ev.Exit)
	assert.Nil(t, order)

	h.prices.set("KRW-BTC", 95.9)
	ev, order, err = h.coord.EnforceRisk(ctx, "KRW-BTC", 95.9, time.Now())
	require.NoError(t, err)
	require.True(t, ev.Exit)
	assert.Equal(t, models.ExitHardStop, ev.Reason)
	require.NotNil(t, order)
	assert.Equal(t, models.OrderFilled, order.Status)
	assert.Equal(t, models.OriginRisk, order.Origin)

	pos, err := h.positions.Get(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)

	trades, _ := h.journal.Recent(ctx, "KRW-BTC", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, string(models.ExitHardStop), trades[0].Reason)
	assert.Less(t, trades[0].RealizedPL, 0.0)
}

func TestLocalLockerContention(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "KRW-BTC", time.Second)
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "KRW-BTC", 20*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrLockContention)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "KRW-BTC", time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	other, err := l.Lock(context.Background(), "KRW-ETH", 20*time.Millisecond)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "KRW-BTC", 20*time.Millisecond)
	require.NoError(t, err)
	again()
}

func TestKVLockerContention(t *testing.T) {
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mem.Close() })
	a := NewKVLocker(mem, time.Minute)
	b := NewKVLocker(mem, time.Minute)

	unlock, err := a.Lock(context.Background(), "KRW-BTC", time.Second)
	require.NoError(t, err)
	_, err = b.Lock(context.Background(), "KRW-BTC", 50*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrLockContention)

	unlock()
	unlock2, err := b.Lock(context.Background(), "KRW-BTC", time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestIdempotencyKeyDependsOnCadence(t *testing.T) {
	at := time.Unix(1717200000, 0)
	assert.Equal(t, IdempotencyKey("KRW-BTC", at, models.CadenceRegular), IdempotencyKey("KRW-BTC", at, models.CadenceRegular))
	assert.NotEqual(t, IdempotencyKey("KRW-BTC", at, models.CadenceRegular), IdempotencyKey("KRW-BTC", at, models.CadenceEmergency))
	assert.Len(t, IdempotencyKey("KRW-BTC", at, models.CadenceRegular), 32)
}
