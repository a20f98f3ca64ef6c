package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"AutoTrader/internal/domain/models"
)

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = float64(100 + i)
		down[i] = float64(100 - i)
	}
	assert.Equal(t, 100.0, RSI(up, 14))
	assert.InDelta(t, 0.0, RSI(down, 14), 1e-9)
	assert.Equal(t, 50.0, RSI(up[:5], 14), "not enough data")
}

func TestMACDFollowsTrend(t *testing.T) {
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 * (1 + 0.01*float64(i))
	}
	line, signal := MACD(up, 12, 26, 9)
	assert.Greater(t, line, 0.0)
	assert.Greater(t, line, signal)
}

func TestBollingerPosition(t *testing.T) {
	flat := []float64{10, 10, 10, 10, 10}
	assert.Equal(t, 0.5, BollingerPosition(flat, 5, 2))

	spike := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 20}
	assert.Greater(t, BollingerPosition(spike, 10, 2), 0.9)
}

func TestPctChangeAndVolumeRatio(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []models.Candle
	for i := 0; i < 21; i++ {
		bars = append(bars, models.Candle{Bucket: start.Add(time.Duration(i) * time.Minute), Close: 100, Volume: 10})
	}
	bars[20].Close = 103
	bars[20].Volume = 30

	assert.InDelta(t, 0.03, PctChange(bars, 1), 1e-9)
	assert.InDelta(t, 3.0, VolumeRatio(bars, 20), 1e-9)
	assert.Equal(t, 0.0, PctChange(bars, 50))
}

func TestRealizedVolatilityFlatSeries(t *testing.T) {
	rets := make([]float64, 30)
	assert.Equal(t, 0.0, RealizedVolatility(rets, 20, BarsPerYear(models.TF1m)))
	assert.Equal(t, 0.0, RealizedVolatility(rets[:5], 20, 1))
}
