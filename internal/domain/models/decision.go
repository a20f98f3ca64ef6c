package models

import "time"

// EngineVote is one analytic engine's opinion.
type EngineVote struct {
	Engine     string  `json:"engine"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
	Detail     string  `json:"detail,omitempty"`
}

// Decision is the fused output of one regular cycle for one market.
type Decision struct {
	Market     string       `json:"market"`
	Action     Action       `json:"action"`
	Confidence float64      `json:"confidence"`
	Engines    []EngineVote `json:"engines"`
	Rationale  string       `json:"rationale"`
	DecidedAt  time.Time    `json:"decided_at"`
}

// MarketSnapshot is everything an engine may look at for one cycle.
type MarketSnapshot struct {
	Market    string                 `json:"market"`
	Candles   map[Timeframe][]Candle `json:"candles"`
	Price     float64                `json:"price"`
	FetchedAt time.Time              `json:"fetched_at"`
}

func (s *MarketSnapshot) Series(tf Timeframe) []Candle {
	if s == nil || s.Candles == nil {
		return nil
	}
	return s.Candles[tf]
}
