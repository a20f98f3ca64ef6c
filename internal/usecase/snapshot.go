package usecase

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// DefaultSeries is what the engines read: 1h trend, 15m momentum and
// indicators, 5m entries.
var DefaultSeries = map[models.Timeframe]int{
	models.TF5m:  60,
	models.TF15m: 60,
	models.TF1h:  30,
}

// SnapshotLoader fetches candles and the latest price for one market and
// refuses data that is too old to act on.
type SnapshotLoader struct {
	candles  domrepo.CandleStore
	prices   domrepo.PriceSource
	series   map[models.Timeframe]int
	maxStale time.Duration
}

func NewSnapshotLoader(candles domrepo.CandleStore, prices domrepo.PriceSource, series map[models.Timeframe]int, maxStale time.Duration) *SnapshotLoader {
	if series == nil {
		series = DefaultSeries
	}
	if maxStale <= 0 {
		maxStale = 2 * time.Minute
	}
	return &SnapshotLoader{candles: candles, prices: prices, series: series, maxStale: maxStale}
}

func (l *SnapshotLoader) Load(ctx context.Context, market string, now time.Time) (*models.MarketSnapshot, error) {
	snap := &models.MarketSnapshot{
		Market:    market,
		Candles:   make(map[models.Timeframe][]models.Candle, len(l.series)),
		FetchedAt: now,
	}
	for tf, n := range l.series {
		bars, err := l.candles.GetLatestNCandles(ctx, market, n, tf)
		if err != nil {
			return nil, fmt.Errorf("%s %s candles: %w: %v", market, tf, models.ErrInsufficientData, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("%s %s: no candles: %w", market, tf, models.ErrInsufficientData)
		}
		if last := bars[len(bars)-1]; now.Sub(last.Bucket) > tf.Duration()+l.maxStale {
			return nil, fmt.Errorf("%s %s: last bar %s: %w", market, tf, last.Bucket.Format(time.RFC3339), models.ErrStaleData)
		}
		snap.Candles[tf] = bars
	}

	// A missing or stale tick aborts the snapshot; bar closes never stand in.
	price, err := l.Price(ctx, market, now)
	if err != nil {
		return nil, err
	}
	snap.Price = price
	return snap, nil
}

// Price returns the latest tick price if it is fresh enough.
func (l *SnapshotLoader) Price(ctx context.Context, market string, now time.Time) (float64, error) {
	tick, err := l.prices.LastTick(ctx, market)
	if err != nil {
		return 0, fmt.Errorf("%s price: %w: %v", market, models.ErrInsufficientData, err)
	}
	if tick.Price <= 0 {
		return 0, fmt.Errorf("%s price: %w", market, models.ErrInsufficientData)
	}
	if !tick.Timestamp.IsZero() && now.Sub(tick.Timestamp) > l.maxStale {
		return 0, fmt.Errorf("%s tick at %s: %w", market, tick.Timestamp.Format(time.RFC3339), models.ErrStaleData)
	}
	return tick.Price, nil
}

// MinuteBars returns the most recent n one-minute bars.
func (l *SnapshotLoader) MinuteBars(ctx context.Context, market string, n int) ([]models.Candle, error) {
	bars, err := l.candles.GetLatestNCandles(ctx, market, n, models.TF1m)
	if err != nil {
		return nil, fmt.Errorf("%s 1m candles: %w: %v", market, models.ErrInsufficientData, err)
	}
	return bars, nil
}

// MaxStale is the freshness bound applied to prices and bars.
func (l *SnapshotLoader) MaxStale() time.Duration { return l.maxStale }
