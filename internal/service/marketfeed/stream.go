package marketfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/service"
	applogger "AutoTrader/pkg/logger"
)

// Stream is a MarketStream over an Upbit-style trade websocket.
type Stream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	markets   []string
}

var _ service.MarketStream = (*Stream)(nil)

func NewStream(url string, reconnectDelay, pingInterval time.Duration, log *applogger.Logger) *Stream {
	if log == nil {
		log = applogger.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Stream{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("market stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("market stream connected", applogger.String("url", s.url))
	return nil
}

// Subscribe sends one trade subscription covering every market.
func (s *Stream) Subscribe(_ context.Context, markets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return fmt.Errorf("market stream not connected")
	}
	req := []map[string]interface{}{
		{"ticket": uuid.NewString()},
		{"type": "trade", "codes": markets, "isOnlyRealtime": true},
		{"format": "SIMPLE"},
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.markets = append([]string(nil), markets...)
	s.log.Info("market stream subscribed", applogger.Strings("markets", markets))
	return nil
}

// tradeFrame is the SIMPLE-format trade message.
type tradeFrame struct {
	Type      string  `json:"ty"`
	Code      string  `json:"cd"`
	Price     float64 `json:"tp"`
	Volume    float64 `json:"tv"`
	Timestamp int64   `json:"ttms"`
}

// DecodeFrame parses one websocket frame into a tick. ok is false for
// frames that are not trades.
func DecodeFrame(b []byte) (models.Tick, bool) {
	var f tradeFrame
	if err := json.Unmarshal(b, &f); err != nil || f.Type != "trade" || f.Code == "" {
		return models.Tick{}, false
	}
	return models.Tick{
		Market:    f.Code,
		Price:     f.Price,
		Volume:    f.Volume,
		Timestamp: time.UnixMilli(f.Timestamp).UTC(),
	}, true
}

// Read streams ticks until the connection fails or ctx ends. Both channels
// are closed when reading stops.
func (s *Stream) Read(ctx context.Context) (<-chan models.Tick, <-chan error) {
	ticks := make(chan models.Tick, 1024)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				c := s.conn
				s.mu.Unlock()
				if c != conn || c == nil {
					return
				}
				_ = c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("market stream not connected")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("market stream read: %w", err)
				}
				return
			}
			t, ok := DecodeFrame(b)
			if !ok {
				continue
			}
			select {
			case ticks <- t:
			default:
				// drop on backpressure
			}
		}
	}()
	return ticks, errs
}

func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	markets := s.markets
	s.mu.Unlock()
	return s.Subscribe(ctx, markets)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
