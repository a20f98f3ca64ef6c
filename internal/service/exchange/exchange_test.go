package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
)

type fixedPrices map[string]float64

func (f fixedPrices) LastTick(_ context.Context, market string) (models.Tick, error) {
	return models.Tick{Market: market, Price: f[market], Timestamp: time.Now()}, nil
}

func TestPaperBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	prices := fixedPrices{"KRW-BTC": 100}
	p := NewPaper(prices, 0.001, 10000)

	fill, err := p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 5000, ClientOrderID: "a"})
	require.NoError(t, err)
	assert.InDelta(t, 49.95, fill.Volume, 1e-9)
	assert.InDelta(t, 5000, p.Cash(), 1e-9)

	again, err := p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 5000, ClientOrderID: "a"})
	require.NoError(t, err)
	assert.Equal(t, fill.OrderID, again.OrderID)
	assert.InDelta(t, 5000, p.Cash(), 1e-9, "resubmission must not fill twice")

	holdings, err := p.Holdings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.InDelta(t, 100, holdings[0].AvgBuyPrice, 1e-9)

	prices["KRW-BTC"] = 110
	sell, err := p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionSell, Amount: fill.Volume, ClientOrderID: "b"})
	require.NoError(t, err)
	assert.Equal(t, 110.0, sell.Price)

	holdings, err = p.Holdings(ctx)
	require.NoError(t, err)
	assert.Empty(t, holdings)

	found, err := p.LookupOrder(ctx, "KRW-BTC", "b")
	require.NoError(t, err)
	assert.Equal(t, sell.OrderID, found.OrderID)

	missing, err := p.LookupOrder(ctx, "KRW-BTC", "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(fixedPrices{"KRW-BTC": 100}, 0, 1000)

	_, err := p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 5000, ClientOrderID: "a"})
	assert.ErrorIs(t, err, service.ErrRejected)

	_, err = p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionSell, Amount: 1, ClientOrderID: "b"})
	assert.ErrorIs(t, err, service.ErrRejected)

	_, err = p.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-ETH", Side: models.ActionBuy, Amount: 10, ClientOrderID: "c"})
	assert.ErrorIs(t, err, service.ErrRejected)
}

func TestBridgeOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		var req bridgeOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.ClientOrderID {
		case "ok":
			_ = json.NewEncoder(w).Encode(bridgeFill{OrderID: "x1", ClientOrderID: "ok", Market: req.Market, Side: req.Side, State: "done", Price: 101, Volume: 2, FilledAt: 1717200000000})
		case "bad":
			http.Error(w, "insufficient funds", http.StatusBadRequest)
		case "boom":
			http.Error(w, "gateway", http.StatusBadGateway)
		case "wait":
			_ = json.NewEncoder(w).Encode(bridgeFill{State: "wait"})
		}
	})
	mux.HandleFunc("/orders/ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))
		_ = json.NewEncoder(w).Encode(bridgeFill{OrderID: "x1", ClientOrderID: "ok", State: "done", Price: 101, Volume: 2})
	})
	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBridge(srv.URL, "k", time.Second)
	ctx := context.Background()

	fill, err := b.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 202, ClientOrderID: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 101.0, fill.Price)
	assert.Equal(t, models.ActionBuy, fill.Side)

	_, err = b.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 1, ClientOrderID: "bad"})
	assert.ErrorIs(t, err, service.ErrRejected)

	_, err = b.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 1, ClientOrderID: "boom"})
	assert.ErrorIs(t, err, service.ErrAmbiguous)

	_, err = b.PlaceOrder(ctx, models.OrderRequest{Market: "KRW-BTC", Side: models.ActionBuy, Amount: 1, ClientOrderID: "wait"})
	assert.ErrorIs(t, err, service.ErrAmbiguous)

	found, err := b.LookupOrder(ctx, "KRW-BTC", "ok")
	require.NoError(t, err)
	assert.Equal(t, "x1", found.OrderID)

	missing, err := b.LookupOrder(ctx, "KRW-BTC", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBridgeCandlesOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/candles", r.URL.Path)
		assert.Equal(t, "15", r.URL.Query().Get("unit"))
		_ = json.NewEncoder(w).Encode([]bridgeCandle{
			{Timestamp: 1717200900000, Close: 2},
			{Timestamp: 1717200000000, Close: 1},
		})
	}))
	defer srv.Close()

	bars, err := NewBridge(srv.URL, "", time.Second).GetLatestNCandles(context.Background(), "KRW-BTC", 2, models.TF15m)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.0, bars[0].Close)
	assert.Equal(t, "KRW-BTC", bars[1].Market)
}
