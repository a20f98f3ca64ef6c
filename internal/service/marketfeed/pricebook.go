// Package marketfeed turns live trade prints into prices and candles.
package marketfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// PriceBook keeps the last tick and a rolling window of 1-minute bars per
// market, built from the ticks it is fed. Larger timeframes are rolled up
// from the minute bars on read.
type PriceBook struct {
	mu      sync.RWMutex
	last    map[string]models.Tick
	bars    map[string][]models.Candle
	maxBars int
}

var (
	_ domrepo.PriceSource = (*PriceBook)(nil)
	_ domrepo.CandleStore = (*PriceBook)(nil)
)

// NewPriceBook keeps up to maxBars minute bars per market.
func NewPriceBook(maxBars int) *PriceBook {
	if maxBars <= 0 {
		maxBars = 2000
	}
	return &PriceBook{
		last:    make(map[string]models.Tick),
		bars:    make(map[string][]models.Candle),
		maxBars: maxBars,
	}
}

// Process implements the pipeline's processor. Late ticks update the bar
// they belong to; ticks older than the window are ignored.
func (b *PriceBook) Process(_ context.Context, t *models.Tick) error {
	if t == nil || t.Market == "" || t.Price <= 0 {
		return fmt.Errorf("invalid tick")
	}
	bucket := t.Timestamp.UTC().Truncate(time.Minute)

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.last[t.Market]; !ok || !t.Timestamp.Before(prev.Timestamp) {
		b.last[t.Market] = *t
	}

	bars := b.bars[t.Market]
	n := len(bars)
	switch {
	case n == 0 || bucket.After(bars[n-1].Bucket):
		bars = append(bars, models.Candle{
			Market: t.Market, Bucket: bucket,
			Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume,
		})
		if len(bars) > b.maxBars {
			bars = append(bars[:0:0], bars[len(bars)-b.maxBars:]...)
		}
	default:
		for i := n - 1; i >= 0; i-- {
			if bars[i].Bucket.Equal(bucket) {
				c := &bars[i]
				if t.Price > c.High {
					c.High = t.Price
				}
				if t.Price < c.Low {
					c.Low = t.Price
				}
				if i == n-1 {
					c.Close = t.Price
				}
				c.Volume += t.Volume
				break
			}
			if bars[i].Bucket.Before(bucket) {
				break
			}
		}
	}
	b.bars[t.Market] = bars
	return nil
}

func (b *PriceBook) LastTick(_ context.Context, market string) (models.Tick, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.last[market]
	if !ok {
		return models.Tick{}, fmt.Errorf("%s: %w", market, models.ErrInsufficientData)
	}
	return t, nil
}

// GetLatestNCandles returns up to n bars of tf, oldest first. The newest bar
// may still be forming.
func (b *PriceBook) GetLatestNCandles(_ context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	b.mu.RLock()
	src := b.bars[market]
	minute := make([]models.Candle, len(src))
	copy(minute, src)
	b.mu.RUnlock()

	out := rollup(minute, tf)
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func rollup(minute []models.Candle, tf models.Timeframe) []models.Candle {
	if tf == models.TF1m {
		return minute
	}
	d := tf.Duration()
	out := make([]models.Candle, 0, len(minute)/int(d/time.Minute)+1)
	for _, m := range minute {
		bucket := m.Bucket.Truncate(d)
		if k := len(out); k > 0 && out[k-1].Bucket.Equal(bucket) {
			c := &out[k-1]
			if m.High > c.High {
				c.High = m.High
			}
			if m.Low < c.Low {
				c.Low = m.Low
			}
			c.Close = m.Close
			c.Volume += m.Volume
			continue
		}
		m.Bucket = bucket
		out = append(out, m)
	}
	return out
}

// Markets lists markets with at least one tick.
func (b *PriceBook) Markets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.last))
	for m := range b.last {
		out = append(out, m)
	}
	return out
}

// Fallback reads candles from primary and falls back to secondary when the
// primary cannot supply n bars.
type Fallback struct {
	primary   domrepo.CandleStore
	secondary domrepo.CandleStore
}

var _ domrepo.CandleStore = (*Fallback)(nil)

func NewFallback(primary, secondary domrepo.CandleStore) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) GetLatestNCandles(ctx context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error) {
	bars, err := f.primary.GetLatestNCandles(ctx, market, n, tf)
	if err == nil && len(bars) >= n {
		return bars, nil
	}
	if f.secondary == nil {
		return bars, err
	}
	return f.secondary.GetLatestNCandles(ctx, market, n, tf)
}

// FallbackPrices prefers a fresh tick from primary.
type FallbackPrices struct {
	primary   domrepo.PriceSource
	secondary domrepo.PriceSource
	maxAge    time.Duration
}

var _ domrepo.PriceSource = (*FallbackPrices)(nil)

func NewFallbackPrices(primary, secondary domrepo.PriceSource, maxAge time.Duration) *FallbackPrices {
	return &FallbackPrices{primary: primary, secondary: secondary, maxAge: maxAge}
}

func (f *FallbackPrices) LastTick(ctx context.Context, market string) (models.Tick, error) {
	t, err := f.primary.LastTick(ctx, market)
	if err == nil && (f.maxAge <= 0 || time.Since(t.Timestamp) <= f.maxAge) {
		return t, nil
	}
	if f.secondary == nil {
		return t, err
	}
	return f.secondary.LastTick(ctx, market)
}
