package usecase

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
	applogger "AutoTrader/pkg/logger"
)

// ReconcileReport lists what a holdings reconciliation changed.
type ReconcileReport struct {
	Adopted  []string `json:"adopted"`
	Dropped  []string `json:"dropped"`
	Settled  []string `json:"settled"`
	Skipped  []string `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

// Reconciler brings the position store in line with what the account
// actually holds, after a restart or manual trading.
type Reconciler struct {
	coord    *Coordinator
	account  service.AccountProvider
	prices   domrepo.PriceSource
	markets  []string
	minValue float64
	log      *applogger.Logger
}

func NewReconciler(coord *Coordinator, account service.AccountProvider, prices domrepo.PriceSource, markets []string, minValue float64, log *applogger.Logger) *Reconciler {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Reconciler{coord: coord, account: account, prices: prices, markets: markets, minValue: minValue, log: log}
}

func (r *Reconciler) Run(ctx context.Context, now time.Time) (*ReconcileReport, error) {
	rep := &ReconcileReport{}

	for _, m := range r.markets {
		if err := r.coord.Reconcile(ctx, m); err != nil {
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", m, err))
		}
	}

	holdings, err := r.account.Holdings(ctx)
	if err != nil {
		return rep, fmt.Errorf("account holdings: %w", err)
	}
	held := make(map[string]models.Holding, len(holdings))
	for _, h := range holdings {
		if h.Volume > 0 {
			held[h.Market] = h
		}
	}

	managed := make(map[string]bool, len(r.markets))
	for _, m := range r.markets {
		managed[m] = true
	}

	for _, h := range held {
		// No cadence runs for an unmanaged market, so nothing would guard it.
		if !managed[h.Market] {
			r.log.Warn("holding in unmanaged market left alone", applogger.Market(h.Market), applogger.Float64("volume", h.Volume))
			rep.Skipped = append(rep.Skipped, h.Market)
			continue
		}
		price := h.AvgBuyPrice
		if tick, err := r.prices.LastTick(ctx, h.Market); err == nil && tick.Price > 0 {
			price = tick.Price
		}
		if h.Volume*price < r.minValue {
			rep.Skipped = append(rep.Skipped, h.Market)
			continue
		}
		adopted, err := r.adopt(ctx, h, price, now)
		switch {
		case err != nil:
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", h.Market, err))
		case adopted:
			rep.Adopted = append(rep.Adopted, h.Market)
		}
	}

	stored, err := r.coord.positions.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("list positions: %w", err)
	}
	for _, p := range stored {
		if _, ok := held[p.Market]; ok || p.State == models.PositionOpening {
			continue
		}
		dropped, err := r.drop(ctx, p.Market)
		switch {
		case err != nil:
			rep.Failures = append(rep.Failures, fmt.Sprintf("%s: %v", p.Market, err))
		case dropped:
			rep.Dropped = append(rep.Dropped, p.Market)
		}
	}

	r.coord.refreshOpenCount(ctx)
	r.log.Info("reconciliation finished",
		applogger.Strings("adopted", rep.Adopted),
		applogger.Strings("dropped", rep.Dropped),
		applogger.Int("failures", len(rep.Failures)))
	return rep, nil
}

// adopt creates a synthesized position for a holding the store lacks.
func (r *Reconciler) adopt(ctx context.Context, h models.Holding, price float64, now time.Time) (bool, error) {
	adopted := false
	err := r.coord.WithMarketLock(ctx, h.Market, func(ctx context.Context) error {
		existing, err := r.coord.positions.Get(ctx, h.Market)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		p := r.coord.risk.Synthesize(h, price, now)
		if err := r.coord.positions.Create(ctx, &p); err != nil {
			return err
		}
		adopted = true
		r.coord.audit.Record(ctx, models.AuditEvent{
			Kind:   models.AuditReconcile,
			Market: h.Market,
			Reason: "adopted external holding",
			Payload: map[string]interface{}{
				"volume":        h.Volume,
				"avg_buy_price": h.AvgBuyPrice,
				"price":         price,
				"stop_loss":     p.StopLossPrice,
			},
		})
		return nil
	})
	return adopted, err
}

// drop removes a stored position the account no longer holds.
func (r *Reconciler) drop(ctx context.Context, market string) (bool, error) {
	dropped := false
	err := r.coord.WithMarketLock(ctx, market, func(ctx context.Context) error {
		p, err := r.coord.positions.Get(ctx, market)
		if err != nil || p == nil || p.State == models.PositionOpening {
			return err
		}
		if err := r.coord.positions.Delete(ctx, p); err != nil {
			return err
		}
		dropped = true
		r.coord.audit.Record(ctx, models.AuditEvent{
			Kind:   models.AuditReconcile,
			Market: market,
			Reason: "position no longer held, dropped",
		})
		return nil
	})
	return dropped, err
}
