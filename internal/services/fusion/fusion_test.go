package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
)

var now = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

func vote(engine string, a models.Action, conf, w float64) models.EngineVote {
	return models.EngineVote{Engine: engine, Action: a, Confidence: conf, Weight: w}
}

func TestAllHold(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionHold, 0.5, 0.3),
		vote("multi_timeframe", models.ActionHold, 0.35, 0.3),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestSingleVotePassesThrough(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionHold, 0.5, 0.3),
		vote("multi_timeframe", models.ActionBuy, 0.70, 0.3),
		vote("model", models.ActionHold, 0.4, 0.4),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, 0.70, d.Confidence)
}

func TestAgreementBoostIsCapped(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionBuy, 0.60, 0.3),
		vote("model", models.ActionBuy, 0.70, 0.3),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.78, d.Confidence, 1e-9) // avg 0.65 * 1.2

	d = Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionSell, 0.85, 0.3),
		vote("multi_timeframe", models.ActionSell, 0.85, 0.3),
		vote("model", models.ActionSell, 0.90, 0.4),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionSell, d.Action)
	assert.Equal(t, 0.95, d.Confidence)
}

func TestConflictPenalty(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionBuy, 0.85, 0.3),
		vote("multi_timeframe", models.ActionBuy, 0.90, 0.3),
		vote("model", models.ActionSell, 0.60, 0.4),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.InDelta(t, 0.875*0.6, d.Confidence, 1e-9)
}

func TestConflictTieIsHold(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionBuy, 0.80, 0.5),
		vote("model", models.ActionSell, 0.78, 0.5),
	}, DefaultConfig(), now)
	assert.Equal(t, models.ActionHold, d.Action)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestRationaleNamesEveryEngine(t *testing.T) {
	d := Fuse("KRW-BTC", []models.EngineVote{
		vote("technical", models.ActionBuy, 0.85, 0.3),
		vote("multi_timeframe", models.ActionHold, 0.35, 0.3),
		vote("model", models.ActionBuy, 0.70, 0.4),
	}, DefaultConfig(), now)
	for _, s := range []string{"technical=BUY(0.85)", "multi_timeframe=HOLD(0.35)", "model=BUY(0.70)"} {
		assert.Contains(t, d.Rationale, s)
	}
	require.Len(t, d.Engines, 3)
	assert.Equal(t, "multi_timeframe", d.Engines[1].Engine)
}

type fixedEngine struct {
	name string
	vote models.EngineVote
	err  error
}

func (e fixedEngine) Name() string { return e.name }
func (e fixedEngine) Evaluate(context.Context, *models.MarketSnapshot) (models.EngineVote, error) {
	return e.vote, e.err
}

func TestDecideTreatsEngineErrorsAsHold(t *testing.T) {
	f := New([]service.Engine{
		fixedEngine{name: "technical", vote: vote("technical", models.ActionBuy, 0.85, 0.3)},
		fixedEngine{name: "model", err: errors.New("boom")},
	}, DefaultConfig(), nil)

	d := f.Decide(context.Background(), &models.MarketSnapshot{Market: "KRW-BTC"}, now)
	assert.Equal(t, models.ActionBuy, d.Action)
	assert.Equal(t, 0.85, d.Confidence)
	assert.Equal(t, models.ActionHold, d.Engines[1].Action)
	assert.Equal(t, now, d.DecidedAt)
}
