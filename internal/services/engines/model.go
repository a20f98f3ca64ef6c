package engines

import (
	"context"
	"fmt"
	"math"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/features"
	applogger "AutoTrader/pkg/logger"
)

// Model asks the external learned model for a probability triple. Any
// failure is a HOLD with zero confidence.
type Model struct {
	client    service.ModelClient
	weight    float64
	threshold float64
	log       *applogger.Logger
}

func NewModel(client service.ModelClient, weight float64, log *applogger.Logger) *Model {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Model{client: client, weight: weight, threshold: 0.55, log: log}
}

func (e *Model) Name() string { return NameModel }

func (e *Model) Evaluate(ctx context.Context, snap *models.MarketSnapshot) (models.EngineVote, error) {
	p, err := e.client.Predict(ctx, snap.Market, features.Vector(snap))
	if err != nil {
		e.log.Warn("model prediction failed", applogger.Market(snap.Market), applogger.Error(err))
		return hold(NameModel, e.weight, 0, "model unavailable"), nil
	}

	detail := fmt.Sprintf("p_buy=%.2f p_sell=%.2f emergency=%.2f", p.BuyProbability, p.SellProbability, p.EmergencyScore)
	conf := p.Confidence
	if conf <= 0 {
		conf = math.Max(p.BuyProbability, p.SellProbability)
	}
	conf = math.Max(0, math.Min(1, conf))

	switch {
	case p.BuyProbability > p.SellProbability && p.BuyProbability > e.threshold:
		return models.EngineVote{Engine: NameModel, Action: models.ActionBuy, Confidence: conf, Weight: e.weight, Detail: detail}, nil
	case p.SellProbability > p.BuyProbability && p.SellProbability > e.threshold:
		return models.EngineVote{Engine: NameModel, Action: models.ActionSell, Confidence: conf, Weight: e.weight, Detail: detail}, nil
	}
	return hold(NameModel, e.weight, conf, detail), nil
}
