package features

import (
	"math"

	"AutoTrader/internal/domain/models"
)

// Closes extracts closing prices, oldest first.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the annualized standard deviation of the last window
// log returns.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range logReturns[len(logReturns)-window:] {
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYear returns the approximate number of bars per year for a timeframe.
func BarsPerYear(tf models.Timeframe) float64 {
	d := tf.Duration()
	if d <= 0 {
		d = models.TF1m.Duration()
	}
	return float64(365*24*60*60) / d.Seconds()
}

// PctChange is the fractional change of the close over the last n bars.
func PctChange(candles []models.Candle, n int) float64 {
	if n <= 0 || len(candles) <= n {
		return 0
	}
	base := candles[len(candles)-1-n].Close
	if base <= 0 {
		return 0
	}
	return (candles[len(candles)-1].Close - base) / base
}

// VolumeRatio is the last volume over the mean volume of the preceding
// window bars.
func VolumeRatio(candles []models.Candle, window int) float64 {
	if window <= 0 || len(candles) < window+1 {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-1-window : len(candles)-1] {
		sum += c.Volume
	}
	if sum <= 0 {
		return 0
	}
	return candles[len(candles)-1].Volume / (sum / float64(window))
}

// Vector is the feature set sent to the learned model.
func Vector(snap *models.MarketSnapshot) map[string]float64 {
	out := map[string]float64{"price": snap.Price}
	for _, tf := range []models.Timeframe{models.TF5m, models.TF15m, models.TF1h} {
		bars := snap.Series(tf)
		if len(bars) < 2 {
			continue
		}
		closes := Closes(bars)
		p := string(tf) + "_"
		out[p+"ret_1"] = PctChange(bars, 1)
		out[p+"ret_10"] = PctChange(bars, 10)
		out[p+"rsi_14"] = RSI(closes, 14)
		macd, signal := MACD(closes, 12, 26, 9)
		out[p+"macd_hist"] = macd - signal
		out[p+"bb_pos"] = BollingerPosition(closes, 20, 2)
		out[p+"vol_ratio"] = VolumeRatio(bars, 20)
		out[p+"rv_20"] = RealizedVolatility(ComputeLogReturns(bars), 20, BarsPerYear(tf))
	}
	return out
}
