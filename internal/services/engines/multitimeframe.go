package engines

import (
	"context"
	"fmt"
	"math"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/services/features"
)

type trend int

const (
	trendSideways trend = iota
	trendUp
	trendDown
)

func (t trend) String() string {
	switch t {
	case trendUp:
		return "UP"
	case trendDown:
		return "DOWN"
	}
	return "SIDEWAYS"
}

// MultiTimeframe combines the 1h trend, 15m momentum and a 5m entry trigger.
type MultiTimeframe struct {
	weight float64
}

func NewMultiTimeframe(weight float64) *MultiTimeframe {
	return &MultiTimeframe{weight: weight}
}

func (e *MultiTimeframe) Name() string { return NameMultiTimeframe }

func (e *MultiTimeframe) Evaluate(_ context.Context, snap *models.MarketSnapshot) (models.EngineVote, error) {
	h1, m15, m5 := snap.Series(models.TF1h), snap.Series(models.TF15m), snap.Series(models.TF5m)
	if len(h1) < 21 || len(m15) < 10 || len(m5) < 35 {
		return hold(NameMultiTimeframe, e.weight, 0,
			fmt.Sprintf("insufficient bars 1h=%d 15m=%d 5m=%d", len(h1), len(m15), len(m5))), nil
	}

	tr, strength := hourTrend(h1)
	strong, momentum := quarterMomentum(m15)
	entry, entryConf := fiveMinuteEntry(m5)

	action, conf := combine(tr, strong, entry)
	detail := fmt.Sprintf("trend=%s(%.2f) momentum=%.4f strong=%t entry=%s(%.2f)",
		tr, strength, momentum, strong, entry, entryConf)
	return models.EngineVote{Engine: NameMultiTimeframe, Action: action, Confidence: conf, Weight: e.weight, Detail: detail}, nil
}

// hourTrend: change over 20 bars beyond ±1.5% sets the direction.
func hourTrend(bars []models.Candle) (trend, float64) {
	chg := features.PctChange(bars, 20)
	strength := math.Min(1, math.Abs(chg)/0.05)
	switch {
	case chg > 0.015:
		return trendUp, strength
	case chg < -0.015:
		return trendDown, strength
	}
	return trendSideways, strength
}

// quarterMomentum: |change over the last 10 bars| scaled by how much volume
// picked up in the second half of that window.
func quarterMomentum(bars []models.Candle) (bool, float64) {
	w := bars[len(bars)-10:]
	chg := 0.0
	if w[0].Close > 0 {
		chg = (w[9].Close - w[0].Close) / w[0].Close
	}
	early, late := 0.0, 0.0
	for i := 0; i < 5; i++ {
		early += w[i].Volume
		late += w[i+5].Volume
	}
	ratio := 1.0
	if early > 0 {
		ratio = late / early
	}
	m := math.Abs(chg) * ratio
	return m > 0.01, m
}

func fiveMinuteEntry(bars []models.Candle) (models.Action, float64) {
	closes := features.Closes(bars)
	rsi := features.RSI(closes, 14)
	macd, signal := features.MACD(closes, 12, 26, 9)
	bb := features.BollingerPosition(closes, 20, 2)

	buy, sell := 0, 0
	if rsi < 35 {
		buy++
	} else if rsi > 65 {
		sell++
	}
	if macd > signal {
		buy++
	} else if macd < signal {
		sell++
	}
	if bb < 0.3 {
		buy++
	} else if bb > 0.7 {
		sell++
	}

	switch {
	case buy >= 2 && buy >= sell:
		return models.ActionBuy, 0.6 + float64(buy-2)*0.15
	case sell >= 2:
		return models.ActionSell, 0.6 + float64(sell-2)*0.15
	}
	return models.ActionHold, 0.3
}

func combine(tr trend, strong bool, entry models.Action) (models.Action, float64) {
	switch tr {
	case trendUp:
		switch {
		case entry == models.ActionBuy && strong:
			return models.ActionBuy, 0.90
		case entry == models.ActionBuy:
			return models.ActionBuy, 0.70
		case entry == models.ActionSell:
			return models.ActionHold, 0.40
		}
		return models.ActionHold, 0.50
	case trendDown:
		if entry == models.ActionSell && strong {
			return models.ActionSell, 0.85
		}
		return models.ActionHold, 0.20
	}
	switch {
	case entry == models.ActionBuy && strong:
		return models.ActionBuy, 0.65
	case entry == models.ActionBuy:
		return models.ActionBuy, 0.50
	case entry == models.ActionSell:
		return models.ActionSell, 0.50
	}
	return models.ActionHold, 0.35
}
