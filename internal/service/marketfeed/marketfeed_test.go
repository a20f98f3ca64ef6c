package marketfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func tick(sec int, price, vol float64) *models.Tick {
	return &models.Tick{Market: "KRW-BTC", Price: price, Volume: vol, Timestamp: base.Add(time.Duration(sec) * time.Second)}
}

func TestPriceBookBuildsMinuteBars(t *testing.T) {
	ctx := context.Background()
	b := NewPriceBook(10)

	for _, tk := range []*models.Tick{tick(0, 100, 1), tick(20, 103, 1), tick(40, 99, 2), tick(65, 101, 1)} {
		require.NoError(t, b.Process(ctx, tk))
	}
	bars, err := b.GetLatestNCandles(ctx, "KRW-BTC", 10, models.TF1m)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, models.Candle{Market: "KRW-BTC", Bucket: base, Open: 100, High: 103, Low: 99, Close: 99, Volume: 4}, bars[0])
	assert.Equal(t, 101.0, bars[1].Open)

	last, err := b.LastTick(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 101.0, last.Price)

	// A late print lands in its own minute without moving the last price.
	require.NoError(t, b.Process(ctx, tick(30, 110, 1)))
	bars, _ = b.GetLatestNCandles(ctx, "KRW-BTC", 10, models.TF1m)
	assert.Equal(t, 110.0, bars[0].High)
	last, _ = b.LastTick(ctx, "KRW-BTC")
	assert.Equal(t, 101.0, last.Price)

	_, err = b.LastTick(ctx, "KRW-ETH")
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Error(t, b.Process(ctx, &models.Tick{Market: "KRW-BTC"}))
}

func TestPriceBookRollupAndWindow(t *testing.T) {
	ctx := context.Background()
	b := NewPriceBook(12)
	for m := 0; m < 15; m++ {
		require.NoError(t, b.Process(ctx, tick(m*60, float64(100+m), 1)))
	}

	minute, err := b.GetLatestNCandles(ctx, "KRW-BTC", 100, models.TF1m)
	require.NoError(t, err)
	assert.Len(t, minute, 12)

	five, err := b.GetLatestNCandles(ctx, "KRW-BTC", 100, models.TF5m)
	require.NoError(t, err)
	require.Len(t, five, 3)
	// The window starts at minute 3, so the first 5m bar is partial.
	assert.Equal(t, base, five[0].Bucket)
	assert.Equal(t, 103.0, five[0].Open)
	assert.Equal(t, 2.0, five[0].Volume)
	assert.Equal(t, base.Add(5*time.Minute), five[1].Bucket)
	assert.Equal(t, 109.0, five[1].Close)
	assert.Equal(t, 5.0, five[1].Volume)

	two, _ := b.GetLatestNCandles(ctx, "KRW-BTC", 2, models.TF5m)
	assert.Len(t, two, 2)
}

func TestFallbackCandles(t *testing.T) {
	ctx := context.Background()
	thin := NewPriceBook(10)
	require.NoError(t, thin.Process(ctx, tick(0, 100, 1)))
	full := NewPriceBook(10)
	for m := 0; m < 5; m++ {
		require.NoError(t, full.Process(ctx, tick(m*60, 200, 1)))
	}

	bars, err := NewFallback(thin, full).GetLatestNCandles(ctx, "KRW-BTC", 5, models.TF1m)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	assert.Equal(t, 200.0, bars[0].Close)
}

func TestDecodeFrame(t *testing.T) {
	tk, ok := DecodeFrame([]byte(`{"ty":"trade","cd":"KRW-BTC","tp":93500000,"tv":0.01,"ttms":1717232400000}`))
	require.True(t, ok)
	assert.Equal(t, "KRW-BTC", tk.Market)
	assert.Equal(t, 93500000.0, tk.Price)
	assert.Equal(t, time.UnixMilli(1717232400000).UTC(), tk.Timestamp)

	_, ok = DecodeFrame([]byte(`{"ty":"ticker","cd":"KRW-BTC"}`))
	assert.False(t, ok)
	_, ok = DecodeFrame([]byte(`not json`))
	assert.False(t, ok)
}

func TestStreamReadsTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		subscribed <- msg
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"ty":"trade","cd":"KRW-BTC","tp":100,"tv":1,"ttms":1717232400000}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"ty":"trade","cd":"KRW-ETH","tp":50,"tv":2,"ttms":1717232401000}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), 10*time.Millisecond, time.Second, nil)
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe(ctx, []string{"KRW-BTC", "KRW-ETH"}))
	assert.True(t, s.IsConnected())

	assert.Contains(t, string(<-subscribed), `"codes":["KRW-BTC","KRW-ETH"]`)

	ticks, _ := s.Read(ctx)
	first := <-ticks
	second := <-ticks
	assert.Equal(t, "KRW-BTC", first.Market)
	assert.Equal(t, "KRW-ETH", second.Market)

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}
