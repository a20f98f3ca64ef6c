package service

import (
	"context"
	"errors"

	"AutoTrader/internal/domain/models"
)

// ErrAmbiguous means the exchange may or may not have executed the order.
var ErrAmbiguous = errors.New("exchange: order outcome unknown")

// ErrRejected means the exchange definitively refused the order.
var ErrRejected = errors.New("exchange: order rejected")

// Engine is one analytic engine. Implementations must not return an error
// for data problems; they vote HOLD instead.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, snapshot *models.MarketSnapshot) (models.EngineVote, error)
}

// Verifier is an external second opinion on a non-HOLD decision.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, d models.Decision) (bool, error)
}

// Exchange places market orders. LookupOrder returns (nil, nil) when the
// exchange has no record of the client order id.
type Exchange interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error)
	LookupOrder(ctx context.Context, market, clientOrderID string) (*models.Fill, error)
}

// AccountProvider reports current holdings for reconciliation.
type AccountProvider interface {
	Holdings(ctx context.Context) ([]models.Holding, error)
}

// Prediction is the learned model's raw output.
type Prediction struct {
	BuyProbability  float64 `json:"buy_probability"`
	SellProbability float64 `json:"sell_probability"`
	EmergencyScore  float64 `json:"emergency_score"`
	Confidence      float64 `json:"confidence"`
}

// ModelClient calls the external learned model.
type ModelClient interface {
	Predict(ctx context.Context, market string, features map[string]float64) (Prediction, error)
}

// MarketStream is a live tick feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, markets []string) error
	Read(ctx context.Context) (<-chan models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}
