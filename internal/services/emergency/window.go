package emergency

import (
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
)

// Window derives short-window metrics from 1-minute bars, oldest first, and
// the latest traded price. Returns are measured against the close 1, 3 and 5
// bars back. maxAge bounds how old the newest bar may be.
func Window(market string, bars []models.Candle, price float64, now time.Time, maxAge time.Duration) (models.WindowMetrics, error) {
	const minBars = 6
	if len(bars) < minBars || price <= 0 {
		return models.WindowMetrics{}, fmt.Errorf("%s: %d bars: %w", market, len(bars), models.ErrInsufficientData)
	}
	last := bars[len(bars)-1]
	if maxAge > 0 && now.Sub(last.Bucket) > maxAge+time.Minute {
		return models.WindowMetrics{}, fmt.Errorf("%s: last bar %s: %w", market, last.Bucket.Format(time.RFC3339), models.ErrStaleData)
	}

	closeBack := func(n int) float64 { return bars[len(bars)-1-n].Close }
	ret := func(n int) float64 {
		base := closeBack(n)
		if base <= 0 {
			return 0
		}
		return (price - base) / base
	}

	m := models.WindowMetrics{
		Market:     market,
		Price:      price,
		Return1m:   ret(1),
		Return3m:   ret(3),
		Return5m:   ret(5),
		ObservedAt: now,
	}
	m.Falling = m.Return1m < 0

	var volSum, rangeSum float64
	for _, b := range bars {
		volSum += b.Volume
		rangeSum += barRange(b)
	}
	n := float64(len(bars))
	if mean := volSum / n; mean > 0 {
		m.VolumeMultiple = last.Volume / mean
	}
	if mean := rangeSum / n; mean > 0 {
		m.VolatilityRatio = barRange(last) / mean
	}
	return m, nil
}

func barRange(b models.Candle) float64 {
	if b.Close <= 0 {
		return 0
	}
	return (b.High - b.Low) / b.Close
}
