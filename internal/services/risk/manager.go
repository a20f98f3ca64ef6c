// Package risk runs the per-position exit and stop-management state machine.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"AutoTrader/internal/domain/models"
	"AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// Config holds loss and profit thresholds as positive fractions of entry.
type Config struct {
	HardStop           float64
	ImmediateCut       float64
	TightenFrom        float64
	TightenGap         float64
	TrailingActivation float64
	TrailingGap        float64
	BreakevenBuffer    float64
	InitialStopLoss    float64
	TakeProfit         float64
	MaxHold            time.Duration
}

// DefaultConfig returns the production thresholds: -4% hard stop, -3% cut,
// +2% trailing activation.
func DefaultConfig() Config {
	return Config{
		HardStop:           0.04,
		ImmediateCut:       0.03,
		TightenFrom:        0.015,
		TightenGap:         0.01,
		TrailingActivation: 0.02,
		TrailingGap:        0.02,
		BreakevenBuffer:    0.002,
		InitialStopLoss:    0.02,
		TakeProfit:         0.10,
		MaxHold:            30 * time.Minute,
	}
}

// Evaluation is the outcome of one tick for one position. Position carries
// the adjusted stops; when Exit is set its state is CLOSING.
type Evaluation struct {
	Position models.Position
	PnL      float64
	Exit     bool
	Reason   models.ExitReason
	Changed  bool
}

// Manager evaluates open positions tick by tick and persists stop moves.
type Manager struct {
	store repository.PositionStore
	cfg   Config
	log   *applogger.Logger
}

// New returns a Manager backed by store.
func New(store repository.PositionStore, cfg Config, log *applogger.Logger) *Manager {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Manager{store: store, cfg: cfg, log: log}
}

func (m *Manager) Config() Config { return m.cfg }

// Open builds the position recorded after a filled BUY.
func (m *Manager) Open(market string, fill models.Fill, origin models.Origin, orderKey string) models.Position {
	p := models.Position{
		Market:        market,
		EntryPrice:    fill.Price,
		Volume:        fill.Volume,
		OpenedAt:      fill.FilledAt,
		State:         models.PositionOpen,
		StopLossPrice: fill.Price * (1 - m.cfg.HardStop),
		Source:        origin,
		OrderKey:      orderKey,
		UpdatedAt:     fill.FilledAt,
	}
	if m.cfg.TakeProfit > 0 {
		p.TakeProfitPrice = fill.Price * (1 + m.cfg.TakeProfit)
	}
	return p
}

// Evaluate applies the exit rules to p at price. It does not touch the store.
func (m *Manager) Evaluate(p models.Position, price float64, now time.Time) Evaluation {
	next := p
	ev := Evaluation{Position: next, PnL: p.PnL(price)}
	if price <= 0 || p.EntryPrice <= 0 {
		return ev
	}
	if p.State != models.PositionOpen && p.State != models.PositionTrailing {
		return ev
	}
	pnl := ev.PnL

	exit := func(reason models.ExitReason) Evaluation {
		ev.Position.State = models.PositionClosing
		ev.Position.UpdatedAt = now
		ev.Exit, ev.Reason, ev.Changed = true, reason, true
		return ev
	}

	switch {
	case pnl <= -m.cfg.HardStop:
		return exit(models.ExitHardStop)
	case pnl <= -m.cfg.ImmediateCut:
		return exit(models.ExitImmediateCut)
	case p.State == models.PositionTrailing && p.TrailingStopPrice > 0 && price <= p.TrailingStopPrice:
		return exit(models.ExitTrailingStop)
	case p.StopLossPrice > 0 && price <= p.StopLossPrice:
		return exit(models.ExitStopLoss)
	case p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice:
		return exit(models.ExitTakeProfit)
	case m.cfg.MaxHold > 0 && !p.OpenedAt.IsZero() && now.Sub(p.OpenedAt) > m.cfg.MaxHold:
		return exit(models.ExitTimeout)
	}

	switch {
	case pnl <= -m.cfg.TightenFrom:
		next.StopLossPrice = math.Max(next.StopLossPrice, price*(1-m.cfg.TightenGap))

	case pnl >= m.cfg.TrailingActivation:
		next.State = models.PositionTrailing
		next.TrailingHighWatermark = math.Max(next.TrailingHighWatermark, price)
		next.TrailingStopPrice = math.Max(next.TrailingStopPrice, next.TrailingHighWatermark*(1-m.cfg.TrailingGap))
		next.StopLossPrice = math.Max(next.StopLossPrice, next.TrailingStopPrice)
		if price <= next.TrailingStopPrice {
			ev.Position = next
			return exit(models.ExitTrailingStop)
		}

	// Arming below the buffer would put the stop above the current price.
	case pnl > m.cfg.BreakevenBuffer:
		next.StopLossPrice = math.Max(next.StopLossPrice, p.EntryPrice*(1+m.cfg.BreakevenBuffer))
		next.BreakevenArmed = true
	}

	if next != p {
		next.UpdatedAt = now
		ev.Changed = true
	}
	ev.Position = next
	return ev
}

// Tick loads the position for market, evaluates it and persists adjusted
// stops. Exits are returned to the caller, which owns the SELL. A missing
// position yields (nil, nil).
func (m *Manager) Tick(ctx context.Context, market string, price float64, now time.Time) (*Evaluation, error) {
	p, err := m.store.Get(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", market, err)
	}
	if p == nil {
		return nil, nil
	}

	ev := m.Evaluate(*p, price, now)
	if ev.Changed && !ev.Exit {
		if err := m.store.Update(ctx, p, &ev.Position); err != nil {
			return nil, fmt.Errorf("update stops %s: %w", market, err)
		}
		m.log.Debug("stops adjusted",
			applogger.Market(market),
			applogger.String("state", string(ev.Position.State)),
			applogger.Float64("pnl", ev.PnL),
			applogger.Float64("stop_loss", ev.Position.StopLossPrice),
			applogger.Float64("trailing_stop", ev.Position.TrailingStopPrice))
	}
	if ev.Exit {
		m.log.Warn("forced exit",
			applogger.Market(market),
			applogger.String("reason", string(ev.Reason)),
			applogger.Float64("pnl", ev.PnL),
			applogger.Float64("price", price))
	}
	return &ev, nil
}
