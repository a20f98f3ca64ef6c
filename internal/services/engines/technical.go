// Package engines contains the analytic engines whose votes are fused into a
// trading decision. The set is closed: technical, multi_timeframe, model.
package engines

import (
	"context"
	"fmt"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/services/features"
)

const (
	NameTechnical      = "technical"
	NameMultiTimeframe = "multi_timeframe"
	NameModel          = "model"
)

func hold(name string, weight, conf float64, detail string) models.EngineVote {
	return models.EngineVote{Engine: name, Action: models.ActionHold, Confidence: conf, Weight: weight, Detail: detail}
}

// Technical counts classic indicator signals on 15-minute bars.
type Technical struct {
	weight float64
	tf     models.Timeframe
}

func NewTechnical(weight float64) *Technical {
	return &Technical{weight: weight, tf: models.TF15m}
}

func (e *Technical) Name() string { return NameTechnical }

func (e *Technical) Evaluate(_ context.Context, snap *models.MarketSnapshot) (models.EngineVote, error) {
	bars := snap.Series(e.tf)
	if len(bars) < 35 {
		return hold(NameTechnical, e.weight, 0, fmt.Sprintf("need 35 %s bars, have %d", e.tf, len(bars))), nil
	}
	closes := features.Closes(bars)
	last := closes[len(closes)-1]

	rsi := features.RSI(closes, 14)
	macd, signal := features.MACD(closes, 12, 26, 9)
	bb := features.BollingerPosition(closes, 20, 2)
	volRatio := features.VolumeRatio(bars, 20)
	ema50 := features.EMA(closes, 50)

	buy, sell := 0, 0
	if rsi < 30 {
		buy++
	} else if rsi > 70 {
		sell++
	}
	if macd > signal {
		buy++
	} else if macd < signal {
		sell++
	}
	if volRatio > 1.5 {
		if rsi < 50 {
			buy++
		} else if rsi > 50 {
			sell++
		}
	}
	if bb < 0.1 {
		buy++
	} else if bb > 0.9 {
		sell++
	}
	if last > ema50 {
		buy++
	} else if last < ema50 {
		sell++
	}

	detail := fmt.Sprintf("rsi=%.1f macd_hist=%.4g bb=%.2f vol=%.2f buy=%d sell=%d", rsi, macd-signal, bb, volRatio, buy, sell)
	switch {
	case buy >= 3:
		return models.EngineVote{Engine: NameTechnical, Action: models.ActionBuy, Confidence: 0.85, Weight: e.weight, Detail: detail}, nil
	case sell >= 2:
		return models.EngineVote{Engine: NameTechnical, Action: models.ActionSell, Confidence: 0.80, Weight: e.weight, Detail: detail}, nil
	}
	return hold(NameTechnical, e.weight, 0.5, detail), nil
}
