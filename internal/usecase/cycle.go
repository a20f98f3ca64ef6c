package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/services/emergency"
	"AutoTrader/internal/services/filter"
	"AutoTrader/internal/services/fusion"
	"AutoTrader/internal/services/verify"
	applogger "AutoTrader/pkg/logger"
)

// Cycles holds the three per-market cadences. Each Run method handles one
// market once; the scheduler decides when.
type Cycles struct {
	coord     *Coordinator
	loader    *SnapshotLoader
	fuser     *fusion.Fuser
	filter    *filter.Filter
	gate      *verify.Gate
	guard     *emergency.Guard
	positions domrepo.PositionStore
	audit     *Auditor
	metrics   domrepo.Metrics
	log       *applogger.Logger

	emergencyEnabled bool
	lookback         int
}

type CyclesConfig struct {
	EmergencyEnabled bool
	// Lookback is the number of 1m bars fed to the emergency window.
	Lookback int
}

func NewCycles(
	cfg CyclesConfig,
	coord *Coordinator,
	loader *SnapshotLoader,
	fuser *fusion.Fuser,
	f *filter.Filter,
	gate *verify.Gate,
	guard *emergency.Guard,
	positions domrepo.PositionStore,
	audit *Auditor,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *Cycles {
	if cfg.Lookback < 6 {
		cfg.Lookback = 20
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Cycles{
		coord:            coord,
		loader:           loader,
		fuser:            fuser,
		filter:           f,
		gate:             gate,
		guard:            guard,
		positions:        positions,
		audit:            audit,
		metrics:          metrics,
		log:              log.With(applogger.String("component", "cycle")),
		emergencyEnabled: cfg.EmergencyEnabled,
		lookback:         cfg.Lookback,
	}
}

// RunTick enforces risk rules on the open position at the latest price.
func (c *Cycles) RunTick(ctx context.Context, market string, now time.Time) error {
	price, err := c.loader.Price(ctx, market, now)
	if err != nil {
		if isInputFault(err) {
			c.log.Debug("tick skipped", applogger.Market(market), applogger.Error(err))
			return nil
		}
		return err
	}
	c.metrics.RecordLastPrice(market, price)
	_, _, err = c.coord.EnforceRisk(ctx, market, price, now)
	return c.settle(ctx, market, models.CadenceTick, err)
}

// RunRegular is the full pipeline: risk, fusion, filter, verification and
// execution.
func (c *Cycles) RunRegular(ctx context.Context, market string, now time.Time) error {
	start := time.Now()
	defer func() { c.metrics.RecordLatency("regular_cycle", time.Since(start).Seconds()) }()

	snap, err := c.loader.Load(ctx, market, now)
	if err != nil {
		if isInputFault(err) {
			c.noAction(ctx, market, models.CadenceRegular, models.ActionHold, err.Error())
			return nil
		}
		return err
	}
	c.metrics.RecordLastPrice(market, snap.Price)

	// An open position is protected before any new entry is considered.
	ev, exit, err := c.coord.EnforceRisk(ctx, market, snap.Price, now)
	if err != nil {
		return c.settle(ctx, market, models.CadenceRegular, err)
	}
	if exit != nil {
		c.log.Info("regular cycle preempted by forced exit", applogger.Market(market), applogger.String("reason", string(ev.Reason)))
		return nil
	}

	d := c.fuser.Decide(ctx, snap, now)
	c.metrics.RecordDecision(market, d.Action)
	c.audit.Record(ctx, models.AuditEvent{
		Kind:       models.AuditDecision,
		Market:     market,
		Cadence:    models.CadenceRegular,
		Action:     d.Action,
		Confidence: d.Confidence,
		Reason:     d.Rationale,
		Payload:    map[string]interface{}{"engines": d.Engines, "price": snap.Price},
	})
	if !d.Action.IsDirectional() {
		c.noAction(ctx, market, models.CadenceRegular, d.Action, "fused decision is HOLD")
		return nil
	}

	verdict, err := c.filter.ShouldAllow(ctx, market, d.Action, d.Confidence)
	c.metrics.RecordFilterVerdict(verdict.Kind, verdict.Allowed)
	c.audit.Record(ctx, models.AuditEvent{
		Kind:       models.AuditFilterVerdict,
		Market:     market,
		Cadence:    models.CadenceRegular,
		Action:     d.Action,
		Confidence: d.Confidence,
		Reason:     verdict.Reason,
		Payload:    map[string]interface{}{"kind": verdict.Kind, "allowed": verdict.Allowed},
	})
	if err != nil {
		// Without the signal history nothing may be allowed.
		c.metrics.RecordError("signal_store")
		return fmt.Errorf("regular %s: %w", market, err)
	}
	if !verdict.Allowed {
		return nil
	}

	pos, err := c.positions.Get(ctx, market)
	if err != nil {
		return fmt.Errorf("regular %s: %w", market, err)
	}
	switch {
	case d.Action == models.ActionBuy && pos != nil:
		c.noAction(ctx, market, models.CadenceRegular, d.Action, "position already open")
		return nil
	case d.Action == models.ActionSell && pos == nil:
		c.noAction(ctx, market, models.CadenceRegular, d.Action, "nothing to sell")
		return nil
	}

	res := c.gate.Verify(ctx, d)
	if c.gate.Enabled() {
		c.metrics.RecordVerification(res.Approved)
		c.audit.Record(ctx, models.AuditEvent{
			Kind:       models.AuditVerification,
			Market:     market,
			Cadence:    models.CadenceRegular,
			Action:     d.Action,
			Confidence: d.Confidence,
			Reason:     res.Reason,
			Payload:    map[string]interface{}{"approved": res.Approved, "verifier": res.Verifier},
		})
	}
	if !res.Approved {
		c.noAction(ctx, market, models.CadenceRegular, d.Action, res.Reason)
		return nil
	}

	_, err = c.coord.Execute(ctx, models.TradeRequest{
		Market:     market,
		Side:       d.Action,
		Origin:     models.OriginFiltered,
		Cadence:    models.CadenceRegular,
		Confidence: d.Confidence,
		Reason:     d.Rationale,
		DecidedAt:  d.DecidedAt,
		Price:      snap.Price,
	}, &verdict)
	return c.settle(ctx, market, models.CadenceRegular, err)
}

// RunEmergency checks the short window and acts immediately on a trigger,
// bypassing the filter and the verification gate.
func (c *Cycles) RunEmergency(ctx context.Context, market string, now time.Time) error {
	if !c.emergencyEnabled {
		return nil
	}
	price, err := c.loader.Price(ctx, market, now)
	if err != nil {
		if isInputFault(err) {
			return nil
		}
		return err
	}
	bars, err := c.loader.MinuteBars(ctx, market, c.lookback)
	if err != nil {
		return nil
	}
	metrics, err := emergency.Window(market, bars, price, now, c.loader.MaxStale())
	if err != nil {
		c.log.Debug("emergency window unavailable", applogger.Market(market), applogger.Error(err))
		return nil
	}

	pos, err := c.positions.Get(ctx, market)
	if err != nil {
		return fmt.Errorf("emergency %s: %w", market, err)
	}
	hasPosition := pos != nil && pos.State.Active()

	sig, err := c.guard.Check(ctx, metrics, hasPosition, now)
	if err != nil {
		return err
	}
	if sig == nil {
		return nil
	}

	c.metrics.RecordEmergency(market, sig.Action)
	c.audit.Record(ctx, models.AuditEvent{
		Kind:       models.AuditEmergency,
		Market:     market,
		Cadence:    models.CadenceEmergency,
		Action:     sig.Action,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
		Payload: map[string]interface{}{
			"return_1m":        metrics.Return1m,
			"return_3m":        metrics.Return3m,
			"return_5m":        metrics.Return5m,
			"volume_multiple":  metrics.VolumeMultiple,
			"volatility_ratio": metrics.VolatilityRatio,
		},
	})

	_, err = c.coord.Execute(ctx, models.TradeRequest{
		Market:     market,
		Side:       sig.Action,
		Origin:     models.OriginEmergency,
		Cadence:    models.CadenceEmergency,
		Confidence: sig.Confidence,
		Reason:     sig.Reason,
		DecidedAt:  sig.TriggeredAt,
		Price:      price,
	}, nil)
	return c.settle(ctx, market, models.CadenceEmergency, err)
}

// settle turns expected refusals into audited no-actions and passes faults
// through.
func (c *Cycles) settle(ctx context.Context, market string, cadence models.Cadence, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, models.ErrMaxPositions),
		errors.Is(err, models.ErrNoPosition),
		errors.Is(err, models.ErrOrderFailed),
		errors.Is(err, models.ErrOrderUnknown),
		errors.Is(err, models.ErrNeedsReconcile):
		c.noAction(ctx, market, cadence, "", err.Error())
		return nil
	}
	return err
}

func (c *Cycles) noAction(ctx context.Context, market string, cadence models.Cadence, action models.Action, reason string) {
	c.audit.Record(ctx, models.AuditEvent{
		Kind:    models.AuditNoAction,
		Market:  market,
		Cadence: cadence,
		Action:  action,
		Reason:  reason,
	})
}

func isInputFault(err error) bool {
	return errors.Is(err, models.ErrInsufficientData) || errors.Is(err, models.ErrStaleData)
}
