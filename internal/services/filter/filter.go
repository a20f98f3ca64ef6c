// Package filter suppresses redundant trade signals using the last allowed
// direction and confidence per market.
package filter

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// Config sets the confidence that counts as high and how long a recorded
// signal is remembered.
type Config struct {
	HighConfidence float64
	TTL            time.Duration
}

// DefaultConfig treats 0.80 as high confidence and forgets signals after a day.
func DefaultConfig() Config {
	return Config{HighConfidence: 0.80, TTL: 24 * time.Hour}
}

// Filter decides whether a directional signal may proceed to execution.
type Filter struct {
	store domrepo.SignalStore
	cfg   Config
	log   *applogger.Logger
	now   func() time.Time
}

// New returns a Filter reading and writing signal history in store.
func New(store domrepo.SignalStore, cfg Config, log *applogger.Logger) *Filter {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Filter{store: store, cfg: cfg, log: log, now: time.Now}
}

// WithClock overrides time.Now.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

// ShouldAllow decides whether a signal may proceed. It never writes; the
// allowed signal is persisted by Record once the trade fills. A store error
// yields a denial together with the error.
func (f *Filter) ShouldAllow(ctx context.Context, market string, action models.Action, confidence float64) (models.FilterVerdict, error) {
	if !action.IsDirectional() {
		return models.FilterVerdict{Kind: models.VerdictHold, Reason: "hold signals are never executed"}, nil
	}

	prior, err := f.store.Get(ctx, market)
	if err != nil {
		f.log.Error("signal store read failed, denying", applogger.Market(market), applogger.Error(err))
		return models.FilterVerdict{Kind: models.VerdictStoreError, Reason: "signal history unavailable"},
			fmt.Errorf("filter %s: %w", market, err)
	}

	v := f.evaluate(prior, action, confidence)
	v.Prior = prior
	return v, nil
}

func (f *Filter) evaluate(prior *models.SignalRecord, action models.Action, confidence float64) models.FilterVerdict {
	high := f.cfg.HighConfidence

	if prior == nil {
		return models.FilterVerdict{Allowed: true, Kind: models.VerdictFirst,
			Reason: fmt.Sprintf("first %s signal", action)}
	}
	if prior.Direction != action {
		return models.FilterVerdict{Allowed: true, Kind: models.VerdictReversal,
			Reason: fmt.Sprintf("reversal %s -> %s", prior.Direction, action)}
	}
	if prior.Confidence >= high {
		return models.FilterVerdict{Kind: models.VerdictRedundant,
			Reason: fmt.Sprintf("already acted on %s at high confidence %.2f", action, prior.Confidence)}
	}
	if confidence >= high {
		return models.FilterVerdict{Allowed: true, Kind: models.VerdictEscalation,
			Reason: fmt.Sprintf("%s confidence escalated %.2f -> %.2f", action, prior.Confidence, confidence)}
	}
	return models.FilterVerdict{Kind: models.VerdictContinuation,
		Reason: fmt.Sprintf("%s continuation below %.2f (prev %.2f, now %.2f)", action, high, prior.Confidence, confidence)}
}

// Record stores the signal that was just executed. The write is conditional
// on verdict.Prior so two writers cannot silently overwrite each other.
func (f *Filter) Record(ctx context.Context, market string, action models.Action, confidence float64, verdict models.FilterVerdict) error {
	if !action.IsDirectional() {
		return fmt.Errorf("record %s: %w", market, models.ErrHoldDecision)
	}
	now := f.now().UTC()
	next := &models.SignalRecord{
		Market:     market,
		Direction:  action,
		Confidence: confidence,
		RecordedAt: now,
		ExpiresAt:  now.Add(f.cfg.TTL),
	}
	if err := f.store.Swap(ctx, verdict.Prior, next); err != nil {
		return fmt.Errorf("record signal %s: %w", market, err)
	}
	f.log.Debug("signal recorded",
		applogger.Market(market),
		applogger.String("direction", string(action)),
		applogger.Float64("confidence", confidence),
	)
	return nil
}

// Apply is ShouldAllow followed by Record for allowed verdicts. It is used
// where no order sits between the two steps.
func (f *Filter) Apply(ctx context.Context, market string, action models.Action, confidence float64) (models.FilterVerdict, error) {
	v, err := f.ShouldAllow(ctx, market, action, confidence)
	if err != nil || !v.Allowed {
		return v, err
	}
	if err := f.Record(ctx, market, action, confidence, v); err != nil {
		return models.FilterVerdict{Kind: models.VerdictStoreError, Reason: "signal history write failed"}, err
	}
	return v, nil
}
