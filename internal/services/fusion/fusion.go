// Package fusion combines engine votes into one decision per cycle.
package fusion

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	applogger "AutoTrader/pkg/logger"
)

// Config tunes how agreeing and conflicting votes are scored.
type Config struct {
	AgreementBoost      float64
	MaxConfidence       float64
	DisagreementPenalty float64
	TieEpsilon          float64
}

// DefaultConfig boosts agreement by 1.2 up to 0.95 and scales a contested
// winner by 0.6.
func DefaultConfig() Config {
	return Config{AgreementBoost: 1.2, MaxConfidence: 0.95, DisagreementPenalty: 0.6, TieEpsilon: 0.05}
}

// Fuser polls the engines and fuses their votes into one decision.
type Fuser struct {
	engines []service.Engine
	cfg     Config
	log     *applogger.Logger
}

// New returns a Fuser over engines, polled in the given order.
func New(engines []service.Engine, cfg Config, log *applogger.Logger) *Fuser {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Fuser{engines: engines, cfg: cfg, log: log}
}

// Decide polls every engine in registration order and fuses the votes. An
// engine that errors is treated as HOLD with zero confidence.
func (f *Fuser) Decide(ctx context.Context, snap *models.MarketSnapshot, now time.Time) models.Decision {
	votes := make([]models.EngineVote, 0, len(f.engines))
	for _, e := range f.engines {
		v, err := e.Evaluate(ctx, snap)
		if err != nil {
			f.log.Warn("engine failed, counting as HOLD",
				applogger.Market(snap.Market), applogger.String("engine", e.Name()), applogger.Error(err))
			v = models.EngineVote{Engine: e.Name(), Action: models.ActionHold, Detail: "error: " + err.Error()}
		}
		if v.Engine == "" {
			v.Engine = e.Name()
		}
		votes = append(votes, v)
	}
	return Fuse(snap.Market, votes, f.cfg, now)
}

// Fuse is the pure combination rule.
func Fuse(market string, votes []models.EngineVote, cfg Config, now time.Time) models.Decision {
	d := models.Decision{Market: market, Action: models.ActionHold, Engines: votes, DecidedAt: now}

	var buys, sells []models.EngineVote
	for _, v := range votes {
		switch v.Action {
		case models.ActionBuy:
			buys = append(buys, v)
		case models.ActionSell:
			sells = append(sells, v)
		}
	}

	var rule string
	switch {
	case len(buys) == 0 && len(sells) == 0:
		rule = "all engines hold"

	case len(buys)+len(sells) == 1:
		single := append(buys, sells...)[0]
		d.Action, d.Confidence = single.Action, single.Confidence
		rule = fmt.Sprintf("single vote from %s", single.Engine)

	case len(sells) == 0 || len(buys) == 0:
		side := append(buys, sells...)
		d.Action = side[0].Action
		d.Confidence = math.Min(cfg.MaxConfidence, weightedAverage(side)*cfg.AgreementBoost)
		rule = fmt.Sprintf("agreement x%.2f", cfg.AgreementBoost)

	default:
		total := totalWeight(buys) + totalWeight(sells)
		buyScore, sellScore := weightedSum(buys)/total, weightedSum(sells)/total
		if math.Abs(buyScore-sellScore) <= cfg.TieEpsilon {
			rule = fmt.Sprintf("conflict tie buy=%.3f sell=%.3f", buyScore, sellScore)
			break
		}
		winner := buys
		if sellScore > buyScore {
			winner = sells
		}
		d.Action = winner[0].Action
		d.Confidence = weightedAverage(winner) * cfg.DisagreementPenalty
		rule = fmt.Sprintf("conflict buy=%.3f sell=%.3f x%.2f", buyScore, sellScore, cfg.DisagreementPenalty)
	}

	d.Rationale = rationale(votes, rule, d)
	return d
}

func rationale(votes []models.EngineVote, rule string, d models.Decision) string {
	parts := make([]string, 0, len(votes))
	for _, v := range votes {
		parts = append(parts, fmt.Sprintf("%s=%s(%.2f)", v.Engine, v.Action, v.Confidence))
	}
	return fmt.Sprintf("%s; %s -> %s %.2f", strings.Join(parts, " "), rule, d.Action, d.Confidence)
}

// weight falls back to 1 so unweighted votes still count.
func weight(v models.EngineVote) float64 {
	if v.Weight <= 0 {
		return 1
	}
	return v.Weight
}

func totalWeight(vs []models.EngineVote) float64 {
	s := 0.0
	for _, v := range vs {
		s += weight(v)
	}
	return s
}

func weightedSum(vs []models.EngineVote) float64 {
	s := 0.0
	for _, v := range vs {
		s += weight(v) * v.Confidence
	}
	return s
}

func weightedAverage(vs []models.EngineVote) float64 {
	w := totalWeight(vs)
	if w == 0 {
		return 0
	}
	return weightedSum(vs) / w
}
