package usecase

import (
	"context"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
)

// MarketStatus is the operator view of one market.
type MarketStatus struct {
	Market    string                 `json:"market"`
	Price     float64                `json:"price,omitempty"`
	PnL       float64                `json:"pnl,omitempty"`
	Position  *models.Position       `json:"position,omitempty"`
	Signal    *models.SignalRecord   `json:"signal,omitempty"`
	Emergency *models.EmergencyState `json:"emergency,omitempty"`
	Errors    map[string]string      `json:"errors,omitempty"`
}

// OverviewUseCase gathers per-market state from every store concurrently.
type OverviewUseCase struct {
	positions domrepo.PositionStore
	signals   domrepo.SignalStore
	emergency domrepo.EmergencyStore
	prices    domrepo.PriceSource
	markets   []string
	timeout   time.Duration
}

func NewOverviewUseCase(positions domrepo.PositionStore, signals domrepo.SignalStore, emergency domrepo.EmergencyStore, prices domrepo.PriceSource, markets []string) *OverviewUseCase {
	return &OverviewUseCase{
		positions: positions,
		signals:   signals,
		emergency: emergency,
		prices:    prices,
		markets:   markets,
		timeout:   5 * time.Second,
	}
}

// Known reports whether market is configured.
func (uc *OverviewUseCase) Known(market string) bool {
	for _, m := range uc.markets {
		if m == market {
			return true
		}
	}
	return false
}

// Overview returns the status of every configured market in config order.
func (uc *OverviewUseCase) Overview(ctx context.Context) []MarketStatus {
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	out := make([]MarketStatus, len(uc.markets))
	var wg sync.WaitGroup
	for i, m := range uc.markets {
		wg.Add(1)
		go func(i int, m string) {
			defer wg.Done()
			out[i] = uc.Status(ctx, m)
		}(i, m)
	}
	wg.Wait()
	return out
}

// Status collects one market. Store failures are reported per field.
func (uc *OverviewUseCase) Status(ctx context.Context, market string) MarketStatus {
	st := MarketStatus{Market: market, Errors: map[string]string{}}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	fail := func(field string, err error) {
		mu.Lock()
		st.Errors[field] = err.Error()
		mu.Unlock()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		p, err := uc.positions.Get(ctx, market)
		if err != nil {
			fail("position", err)
			return
		}
		mu.Lock()
		st.Position = p
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		r, err := uc.signals.Get(ctx, market)
		if err != nil {
			fail("signal", err)
			return
		}
		mu.Lock()
		st.Signal = r
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		e, err := uc.emergency.Get(ctx, market)
		if err != nil {
			fail("emergency", err)
			return
		}
		mu.Lock()
		st.Emergency = e
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		t, err := uc.prices.LastTick(ctx, market)
		if err != nil {
			fail("price", err)
			return
		}
		mu.Lock()
		st.Price = t.Price
		mu.Unlock()
	}()
	wg.Wait()

	if st.Position != nil && st.Price > 0 {
		st.PnL = st.Position.PnL(st.Price)
	}
	if len(st.Errors) == 0 {
		st.Errors = nil
	}
	return st
}
