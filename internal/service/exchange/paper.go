// Package exchange holds the order-execution backends: an in-process paper
// account and an HTTP bridge to a live exchange gateway.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
)

const dust = 1e-12

// Paper fills market orders at the last known tick price against a
// simulated quote balance. Fills are remembered by client order id, so a
// resubmitted order returns the original fill.
type Paper struct {
	mu       sync.Mutex
	prices   domrepo.PriceSource
	feeRate  float64
	cash     float64
	holdings map[string]*models.Holding
	fills    map[string]*models.Fill
	now      func() time.Time
}

var (
	_ service.Exchange        = (*Paper)(nil)
	_ service.AccountProvider = (*Paper)(nil)
)

func NewPaper(prices domrepo.PriceSource, feeRate, initialQuote float64) *Paper {
	return &Paper{
		prices:   prices,
		feeRate:  feeRate,
		cash:     initialQuote,
		holdings: make(map[string]*models.Holding),
		fills:    make(map[string]*models.Fill),
		now:      time.Now,
	}
}

// WithClock overrides time.Now.
func (p *Paper) WithClock(now func() time.Time) *Paper {
	p.now = now
	return p
}

func (p *Paper) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	p.mu.Lock()
	if f, ok := p.fills[req.ClientOrderID]; ok {
		p.mu.Unlock()
		cp := *f
		return &cp, nil
	}
	p.mu.Unlock()

	tick, err := p.prices.LastTick(ctx, req.Market)
	if err != nil {
		return nil, fmt.Errorf("paper %s: price: %w", req.Market, err)
	}
	if tick.Price <= 0 {
		return nil, fmt.Errorf("paper %s: no price: %w", req.Market, service.ErrRejected)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.fills[req.ClientOrderID]; ok {
		cp := *f
		return &cp, nil
	}

	fill := &models.Fill{
		OrderID:       uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Market:        req.Market,
		Side:          req.Side,
		Price:         tick.Price,
		FilledAt:      p.now().UTC(),
	}

	switch req.Side {
	case models.ActionBuy:
		if req.Amount <= 0 || req.Amount > p.cash+dust {
			return nil, fmt.Errorf("paper buy %s: need %.2f, have %.2f: %w", req.Market, req.Amount, p.cash, service.ErrRejected)
		}
		fill.Fee = req.Amount * p.feeRate
		fill.Volume = (req.Amount - fill.Fee) / tick.Price
		p.cash -= req.Amount

		h := p.holdings[req.Market]
		if h == nil {
			h = &models.Holding{Market: req.Market}
			p.holdings[req.Market] = h
		}
		cost := h.AvgBuyPrice*h.Volume + tick.Price*fill.Volume
		h.Volume += fill.Volume
		h.AvgBuyPrice = cost / h.Volume

	case models.ActionSell:
		h := p.holdings[req.Market]
		if h == nil || req.Amount <= 0 || req.Amount > h.Volume+dust {
			return nil, fmt.Errorf("paper sell %s: insufficient volume: %w", req.Market, service.ErrRejected)
		}
		fill.Volume = req.Amount
		gross := req.Amount * tick.Price
		fill.Fee = gross * p.feeRate
		p.cash += gross - fill.Fee
		h.Volume -= req.Amount
		if h.Volume <= dust {
			delete(p.holdings, req.Market)
		}

	default:
		return nil, fmt.Errorf("paper: side %q: %w", req.Side, service.ErrRejected)
	}

	p.fills[req.ClientOrderID] = fill
	cp := *fill
	return &cp, nil
}

func (p *Paper) LookupOrder(_ context.Context, _ string, clientOrderID string) (*models.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.fills[clientOrderID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (p *Paper) Holdings(context.Context) ([]models.Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

// Cash returns the remaining quote balance.
func (p *Paper) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}
