package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// ErrDownstream wraps a processor failure. The tick was buffered for retry.
var ErrDownstream = errors.New("pipeline downstream")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// RealtimePipeline sits between a tick source (websocket or Kafka) and the
// price book. It validates, throttles per market, and buffers ticks while
// the downstream refuses them.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.Tick
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time
	markets  map[string]bool
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per market.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMarkets drops ticks for markets not in the list.
func WithMarkets(markets []string) PipelineOption {
	return func(p *RealtimePipeline) {
		if len(markets) == 0 {
			return
		}
		p.markets = make(map[string]bool, len(markets))
		for _, m := range markets {
			p.markets[m] = true
		}
	}
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				if err := p.proc.Process(ctx, t); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- t:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Process validates, throttles and forwards t, buffering it if the
// downstream fails.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.markets != nil && !p.markets[t.Market] {
		return nil
	}
	if !p.allow(t.Market, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("%w: %v", ErrDownstream, err)
	}
	p.metrics.RecordLastPrice(t.Market, t.Price)
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered reports how many ticks wait for a retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

func validateTick(t *models.Tick) error {
	switch {
	case t == nil:
		return fmt.Errorf("tick nil")
	case t.Market == "":
		return fmt.Errorf("market empty")
	case t.Timestamp.IsZero():
		return fmt.Errorf("timestamp missing")
	case t.Price <= 0 || t.Volume < 0:
		return fmt.Errorf("invalid price/volume")
	}
	return nil
}

// allow enforces at most maxRPS ticks per second per market.
func (p *RealtimePipeline) allow(market string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[market]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[market] = now
	return true
}
