package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/pkg/metrics"
)

type recordingProc struct {
	mu    sync.Mutex
	fail  bool
	ticks []models.Tick
}

func (r *recordingProc) Process(_ context.Context, t *models.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("down")
	}
	r.ticks = append(r.ticks, *t)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func newTick(market string, price float64) *models.Tick {
	return &models.Tick{Market: market, Price: price, Volume: 1, Timestamp: time.Now()}
}

func TestPipelineValidatesAndFilters(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Noop{}, WithMaxRPS(0), WithMarkets([]string{"KRW-BTC"}))
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, &models.Tick{Market: "KRW-BTC", Price: 1}))
	assert.Error(t, p.Process(ctx, newTick("KRW-BTC", 0)))
	require.NoError(t, p.Process(ctx, newTick("KRW-DOGE", 1)))
	require.NoError(t, p.Process(ctx, newTick("KRW-BTC", 1)))
	assert.Equal(t, 1, proc.count())
}

func TestPipelineThrottlesPerMarket(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Noop{}, WithMaxRPS(1))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, newTick("KRW-BTC", 1)))
	require.NoError(t, p.Process(ctx, newTick("KRW-BTC", 2)))
	require.NoError(t, p.Process(ctx, newTick("KRW-ETH", 3)))
	assert.Equal(t, 2, proc.count())
}

func TestPipelineBuffersAndFlushes(t *testing.T) {
	proc := &recordingProc{fail: true}
	p := NewRealtimePipeline(proc, metrics.Noop{}, WithMaxRPS(0), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, newTick("KRW-BTC", 1))
	assert.ErrorIs(t, err, ErrDownstream)
	assert.Equal(t, 1, p.Buffered())

	proc.mu.Lock()
	proc.fail = false
	proc.mu.Unlock()
	p.Start(ctx)
	defer p.Stop()

	assert.Eventually(t, func() bool { return proc.count() == 1 }, time.Second, 10*time.Millisecond)
}
