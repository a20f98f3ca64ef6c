package features

import "math"

// SMA is the simple average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries returns the exponential moving average for every index, seeded
// with the first value.
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// EMA returns the latest exponential moving average.
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// RSI uses Wilder smoothing. Returns 50 when there is not enough data.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// MACD returns the latest MACD line and its signal line.
func MACD(closes []float64, fast, slow, signal int) (float64, float64) {
	if len(closes) < 2 {
		return 0, 0
	}
	f := EMASeries(closes, fast)
	s := EMASeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sig := EMASeries(line, signal)
	return line[len(line)-1], sig[len(sig)-1]
}

// BollingerPosition places the last close inside the band: 0 at the lower
// band, 1 at the upper band, 0.5 when the band is flat.
func BollingerPosition(closes []float64, period int, k float64) float64 {
	if period <= 1 || len(closes) < period {
		return 0.5
	}
	window := closes[len(closes)-period:]
	mean := SMA(window, period)
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(variance / float64(period))
	if sd == 0 {
		return 0.5
	}
	upper, lower := mean+k*sd, mean-k*sd
	return (closes[len(closes)-1] - lower) / (upper - lower)
}
