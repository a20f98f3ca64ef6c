package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/remote"
	xhttp "AutoTrader/pkg/http"
)

// Bridge talks to an exchange gateway over JSON HTTP. Besides orders it
// serves candles, last prices and account balances.
//
//	POST /orders                  place a market order
//	GET  /orders/{client_id}      look up an order by client id (404 = unknown)
//	GET  /accounts                balances
//	GET  /candles?market&unit&count
//	GET  /ticker?market
type Bridge struct {
	base *remote.HTTPServiceBase
}

var (
	_ service.Exchange        = (*Bridge)(nil)
	_ service.AccountProvider = (*Bridge)(nil)
	_ domrepo.CandleStore     = (*Bridge)(nil)
	_ domrepo.PriceSource     = (*Bridge)(nil)
)

func NewBridge(baseURL, apiKey string, timeout time.Duration) *Bridge {
	var opts []xhttp.ClientOption
	if apiKey != "" {
		opts = append(opts, xhttp.WithHeader("X-API-Key", apiKey))
	}
	return &Bridge{base: remote.NewHTTPServiceBase("exchange", baseURL, timeout, opts...)}
}

type bridgeOrder struct {
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Amount        float64 `json:"amount"`
	ClientOrderID string  `json:"client_order_id"`
}

type bridgeFill struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	State         string  `json:"state"`
	Price         float64 `json:"price"`
	Volume        float64 `json:"volume"`
	Fee           float64 `json:"fee"`
	FilledAt      int64   `json:"filled_at"` // unix ms
}

func (f bridgeFill) toModel() *models.Fill {
	return &models.Fill{
		OrderID:       f.OrderID,
		ClientOrderID: f.ClientOrderID,
		Market:        f.Market,
		Side:          models.Action(f.Side),
		Price:         f.Price,
		Volume:        f.Volume,
		Fee:           f.Fee,
		FilledAt:      time.UnixMilli(f.FilledAt).UTC(),
	}
}

func (b *Bridge) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	var resp bridgeFill
	err := b.base.PostJSON(ctx, "/orders", bridgeOrder{
		Market:        req.Market,
		Side:          string(req.Side),
		Amount:        req.Amount,
		ClientOrderID: req.ClientOrderID,
	}, &resp)
	if err != nil {
		return nil, classify(err)
	}
	switch resp.State {
	case "done", "filled", "":
		return resp.toModel(), nil
	case "cancel", "rejected":
		return nil, fmt.Errorf("order %s %s: %w", req.ClientOrderID, resp.State, service.ErrRejected)
	default:
		return nil, fmt.Errorf("order %s in state %q: %w", req.ClientOrderID, resp.State, service.ErrAmbiguous)
	}
}

// classify maps transport outcomes onto the exchange error contract. A
// definite 4xx is a rejection; anything where the gateway may have acted is
// ambiguous.
func classify(err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests:
			return err
		case se.Code >= 400 && se.Code < 500:
			return fmt.Errorf("%w: %v", service.ErrRejected, err)
		}
		return fmt.Errorf("%w: %v", service.ErrAmbiguous, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", service.ErrAmbiguous, err)
	}
	return err
}

func (b *Bridge) LookupOrder(ctx context.Context, market, clientOrderID string) (*models.Fill, error) {
	var resp bridgeFill
	err := b.base.GetJSON(ctx, "/orders/"+url.PathEscape(clientOrderID), map[string][]string{"market": {market}}, &resp)
	if xhttp.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.State != "done" && resp.State != "filled" && resp.State != "" {
		return nil, nil
	}
	return resp.toModel(), nil
}

func (b *Bridge) Holdings(ctx context.Context) ([]models.Holding, error) {
	var resp []models.Holding
	if err := b.base.GetJSON(ctx, "/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

type bridgeCandle struct {
	Timestamp int64   `json:"timestamp"` // bar open, unix ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// GetLatestNCandles returns up to n bars, oldest first.
func (b *Bridge) GetLatestNCandles(ctx context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	var resp []bridgeCandle
	q := map[string][]string{
		"market": {market},
		"unit":   {strconv.Itoa(int(tf.Duration() / time.Minute))},
		"count":  {strconv.Itoa(n)},
	}
	if err := b.base.GetJSON(ctx, "/candles", q, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, len(resp))
	for _, c := range resp {
		out = append(out, models.Candle{
			Market: market,
			Bucket: time.UnixMilli(c.Timestamp).UTC(),
			Open:   c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		})
	}
	if len(out) > 1 && out[0].Bucket.After(out[len(out)-1].Bucket) {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (b *Bridge) LastTick(ctx context.Context, market string) (models.Tick, error) {
	var resp struct {
		Market    string  `json:"market"`
		Price     float64 `json:"trade_price"`
		Volume    float64 `json:"trade_volume"`
		Timestamp int64   `json:"timestamp"`
	}
	if err := b.base.GetJSON(ctx, "/ticker", map[string][]string{"market": {market}}, &resp); err != nil {
		return models.Tick{}, err
	}
	return models.Tick{
		Market:    market,
		Price:     resp.Price,
		Volume:    resp.Volume,
		Timestamp: time.UnixMilli(resp.Timestamp).UTC(),
	}, nil
}
