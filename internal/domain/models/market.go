package models

import "time"

// Timeframe is a candle resolution.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
)

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF3m:
		return 3 * time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	}
	return 0
}

func (tf Timeframe) Valid() bool { return tf.Duration() > 0 }

// Candle is an OHLCV bar. Bucket is the bar's open time.
type Candle struct {
	Market string    `json:"market"`
	Bucket time.Time `json:"bucket"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Tick is a single trade print from the market feed.
type Tick struct {
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Holding is an asset balance reported by the account snapshot provider.
type Holding struct {
	Market      string  `json:"market"`
	Volume      float64 `json:"volume"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}
