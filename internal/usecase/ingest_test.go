package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	mid "AutoTrader/internal/middleware"
	"AutoTrader/internal/repository"
	"AutoTrader/internal/service/marketfeed"
	"AutoTrader/pkg/kv"
	"AutoTrader/pkg/metrics"
)

// scriptedStream replays one tick batch per Read session. Every session but
// the last ends with an error.
type scriptedStream struct {
	mu         sync.Mutex
	sessions   [][]models.Tick
	reconnects int
	subscribed []string
}

func (s *scriptedStream) Connect(context.Context) error { return nil }

func (s *scriptedStream) Subscribe(_ context.Context, markets []string) error {
	s.subscribed = markets
	return nil
}

func (s *scriptedStream) Read(ctx context.Context) (<-chan models.Tick, <-chan error) {
	s.mu.Lock()
	var batch []models.Tick
	last := len(s.sessions) <= 1
	if len(s.sessions) > 0 {
		batch, s.sessions = s.sessions[0], s.sessions[1:]
	}
	s.mu.Unlock()

	ticks := make(chan models.Tick)
	errs := make(chan error, 1)
	go func() {
		defer close(ticks)
		defer close(errs)
		for _, t := range batch {
			select {
			case ticks <- t:
			case <-ctx.Done():
				return
			}
		}
		if last {
			<-ctx.Done()
			return
		}
		errs <- errors.New("connection reset")
	}()
	return ticks, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *scriptedStream) Close() error      { return nil }
func (s *scriptedStream) IsConnected() bool { return true }

func TestTickCollectorReconnectsAndKeepsFeeding(t *testing.T) {
	now := time.Now().UTC()
	stream := &scriptedStream{sessions: [][]models.Tick{
		{{Market: "KRW-BTC", Price: 100, Volume: 1, Timestamp: now}},
		{{Market: "KRW-BTC", Price: 101, Volume: 1, Timestamp: now.Add(time.Second)}},
	}}
	book := marketfeed.NewPriceBook(0)
	pipe := mid.NewRealtimePipeline(book, metrics.Noop{}, mid.WithMaxRPS(0))
	c := NewTickCollector(stream, pipe, []string{"KRW-BTC"}, metrics.Noop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []string{"KRW-BTC"}, stream.subscribed)

	assert.Eventually(t, func() bool {
		tick, err := book.LastTick(ctx, "KRW-BTC")
		return err == nil && tick.Price == 101
	}, 2*time.Second, 10*time.Millisecond)

	stream.mu.Lock()
	assert.Equal(t, 1, stream.reconnects)
	stream.mu.Unlock()

	cancel()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
	require.NoError(t, c.Shutdown())
}

func TestKafkaTickHandler(t *testing.T) {
	book := marketfeed.NewPriceBook(0)
	pipe := mid.NewRealtimePipeline(book, metrics.Noop{}, mid.WithMaxRPS(0))
	h := NewKafkaTickHandler("market.ticks", pipe, metrics.Noop{})
	ctx := context.Background()

	assert.Equal(t, "market.ticks", h.Topic())
	require.NoError(t, h.Handle(ctx, []byte(`{"market":"KRW-ETH","price":3100.5,"volume":0.2,"ts":1735689600000}`)))
	tick, err := book.LastTick(ctx, "KRW-ETH")
	require.NoError(t, err)
	assert.Equal(t, 3100.5, tick.Price)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), tick.Timestamp)

	// seconds are accepted too
	require.NoError(t, h.Handle(ctx, []byte(`{"market":"KRW-ETH","price":3101,"volume":0.1,"ts":1735689660}`)))
	tick, _ = book.LastTick(ctx, "KRW-ETH")
	assert.Equal(t, 3101.0, tick.Price)

	assert.Error(t, h.Handle(ctx, []byte(`{not json`)))
	assert.Error(t, h.Handle(ctx, []byte(`{"market":"","price":1,"ts":1735689600000}`)))
}

type memArchive struct {
	fail bool
	bars []models.Candle
}

func (a *memArchive) StoreBatch(_ context.Context, bars []models.Candle) error {
	if a.fail {
		return errors.New("clickhouse down")
	}
	a.bars = append(a.bars, bars...)
	return nil
}

func TestBarArchiverFlushesClosedBarsOnce(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	book := marketfeed.NewPriceBook(0)
	for i, p := range []float64{100, 101, 102} {
		require.NoError(t, book.Process(ctx, &models.Tick{
			Market: "KRW-BTC", Price: p, Volume: 1, Timestamp: base.Add(time.Duration(i)*time.Minute + 10*time.Second),
		}))
	}

	arch := &memArchive{fail: true}
	a := NewBarArchiver(book, arch, []string{"KRW-BTC", "KRW-ETH"}, metrics.Noop{}, nil)

	_, err := a.Flush(ctx, base.Add(2*time.Minute+30*time.Second))
	assert.Error(t, err)

	arch.fail = false
	n, err := a.Flush(ctx, base.Add(2*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, base, arch.bars[0].Bucket)
	assert.Equal(t, base.Add(time.Minute), arch.bars[1].Bucket)

	n, err = a.Flush(ctx, base.Add(2*time.Minute+50*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.Flush(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 102.0, arch.bars[2].Close)
}

func TestCandlesUseCaseValidates(t *testing.T) {
	ctx := context.Background()
	book := marketfeed.NewPriceBook(0)
	require.NoError(t, book.Process(ctx, &models.Tick{Market: "KRW-BTC", Price: 100, Volume: 1, Timestamp: time.Now()}))
	uc := NewCandlesUseCase(book)

	_, err := uc.GetCandles(ctx, GetCandlesParams{})
	assert.Error(t, err)
	_, err = uc.GetCandles(ctx, GetCandlesParams{Market: "KRW-BTC", Timeframe: "2m"})
	assert.Error(t, err)

	res, err := uc.GetCandles(ctx, GetCandlesParams{Market: "KRW-BTC"})
	require.NoError(t, err)
	assert.Equal(t, "1m", res.Timeframe)
	assert.Equal(t, 1, res.Count)
}

func TestOverviewCollectsEveryStore(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore(kv.WithMemoryCleanup(0))
	defer mem.Close()

	positions := repository.NewKVPositionStore(mem)
	signals := repository.NewKVSignalStore(mem)
	emergency := repository.NewKVEmergencyStore(mem)
	book := marketfeed.NewPriceBook(0)

	require.NoError(t, positions.Create(ctx, &models.Position{
		Market: "KRW-BTC", EntryPrice: 100, Volume: 1, State: models.PositionOpen, OpenedAt: time.Now(),
	}))
	require.NoError(t, book.Process(ctx, &models.Tick{Market: "KRW-BTC", Price: 102, Volume: 1, Timestamp: time.Now()}))

	uc := NewOverviewUseCase(positions, signals, emergency, book, []string{"KRW-BTC", "KRW-ETH"})
	assert.True(t, uc.Known("KRW-BTC"))
	assert.False(t, uc.Known("KRW-DOGE"))

	out := uc.Overview(ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "KRW-BTC", out[0].Market)
	require.NotNil(t, out[0].Position)
	assert.InDelta(t, 0.02, out[0].PnL, 1e-9)
	assert.Nil(t, out[0].Errors)

	assert.Nil(t, out[1].Position)
	assert.Contains(t, out[1].Errors, "price")
}
