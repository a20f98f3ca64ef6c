package risk

import (
	"math"
	"time"

	"AutoTrader/internal/domain/models"
)

// Synthesize builds a Position for a holding the exchange reports but the
// store does not know. The stop is placed according to how deep the holding
// already is in loss; a holding past the immediate cut is set to exit on
// the next tick.
func (m *Manager) Synthesize(h models.Holding, price float64, now time.Time) models.Position {
	entry := h.AvgBuyPrice
	if entry <= 0 {
		entry = price
	}
	p := models.Position{
		Market:     h.Market,
		EntryPrice: entry,
		Volume:     h.Volume,
		OpenedAt:   now,
		State:      models.PositionOpen,
		Source:     models.OriginReconcile,
		UpdatedAt:  now,
	}
	if m.cfg.TakeProfit > 0 {
		p.TakeProfitPrice = entry * (1 + m.cfg.TakeProfit)
	}

	pnl := 0.0
	if price > 0 {
		pnl = (price - entry) / entry
	}
	initial := entry * (1 - m.cfg.InitialStopLoss)
	switch {
	case price <= 0:
		p.StopLossPrice = initial
	case pnl <= -m.cfg.ImmediateCut:
		p.StopLossPrice = price * 1.001
	case pnl <= -m.cfg.TightenFrom:
		p.StopLossPrice = price * (1 - m.cfg.TightenGap)
	case pnl < 0:
		p.StopLossPrice = initial
	default:
		p.StopLossPrice = math.Max(initial, entry*0.99)
	}
	return p
}
