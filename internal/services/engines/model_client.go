package engines

import (
	"context"
	"time"

	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/remote"
)

// HTTPModelClient calls POST /predict on the model service.
type HTTPModelClient struct {
	*remote.HTTPServiceBase
}

var _ service.ModelClient = (*HTTPModelClient)(nil)

func NewHTTPModelClient(baseURL string, timeout time.Duration) *HTTPModelClient {
	return &HTTPModelClient{HTTPServiceBase: remote.NewHTTPServiceBase("model", baseURL, timeout)}
}

type predictRequest struct {
	Market   string             `json:"market"`
	Features map[string]float64 `json:"features"`
}

func (c *HTTPModelClient) Predict(ctx context.Context, market string, features map[string]float64) (service.Prediction, error) {
	var out service.Prediction
	err := c.PostJSON(ctx, "/predict", predictRequest{Market: market, Features: features}, &out)
	return out, err
}
