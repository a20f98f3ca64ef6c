package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	"AutoTrader/internal/domain/service"
	"AutoTrader/internal/services/risk"
	applogger "AutoTrader/pkg/logger"
)

// SignalRecorder persists an executed filtered signal.
type SignalRecorder interface {
	Record(ctx context.Context, market string, action models.Action, confidence float64, verdict models.FilterVerdict) error
}

type CoordinatorConfig struct {
	TradeAmount      float64
	MaxOpenPositions int
	LockWait         time.Duration
	OrderTimeout     time.Duration
	OrderRetries     int
}

// Coordinator is the only component that submits orders. Every path that
// touches a market's position or order ledger runs under that market's lock.
type Coordinator struct {
	cfg       CoordinatorConfig
	locker    Locker
	positions domrepo.PositionStore
	orders    domrepo.OrderStore
	journal   domrepo.Journal
	exchange  service.Exchange
	recorder  SignalRecorder
	risk      *risk.Manager
	audit     *Auditor
	metrics   domrepo.Metrics
	log       *applogger.Logger
	now       func() time.Time
}

func NewCoordinator(
	cfg CoordinatorConfig,
	locker Locker,
	positions domrepo.PositionStore,
	orders domrepo.OrderStore,
	journal domrepo.Journal,
	exchange service.Exchange,
	recorder SignalRecorder,
	riskMgr *risk.Manager,
	audit *Auditor,
	metrics domrepo.Metrics,
	log *applogger.Logger,
) *Coordinator {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		locker:    locker,
		positions: positions,
		orders:    orders,
		journal:   journal,
		exchange:  exchange,
		recorder:  recorder,
		risk:      riskMgr,
		audit:     audit,
		metrics:   metrics,
		log:       log.With(applogger.String("component", "coordinator")),
		now:       time.Now,
	}
}

// WithClock overrides time.Now.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// IdempotencyKey identifies one decision. Replays of the same decision map to
// the same exchange client order id.
func IdempotencyKey(market string, decidedAt time.Time, cadence models.Cadence) string {
	sum := sha256.Sum256([]byte(market + "|" + strconv.FormatInt(decidedAt.UnixNano(), 10) + "|" + string(cadence)))
	return hex.EncodeToString(sum[:16])
}

// Execute submits req and applies the fill. verdict is the filter verdict for
// filtered requests and nil otherwise. A replay of an already settled
// request returns the stored order without touching the exchange.
func (c *Coordinator) Execute(ctx context.Context, req models.TradeRequest, verdict *models.FilterVerdict) (*models.TradeOrder, error) {
	if req.Market == "" || req.DecidedAt.IsZero() {
		return nil, fmt.Errorf("%w: market and decision time are required", models.ErrInvalidTrade)
	}
	if !req.Side.IsDirectional() {
		return nil, models.ErrHoldDecision
	}

	unlock, err := c.acquire(ctx, req.Market, req.Cadence)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Once the lock is held the submission runs to completion.
	return c.executeLocked(context.WithoutCancel(ctx), req, verdict)
}

// EnforceRisk runs the risk manager for market at price and submits the
// forced exit when one is due. It returns the evaluation (nil without a
// position) and the exit order, if any.
func (c *Coordinator) EnforceRisk(ctx context.Context, market string, price float64, now time.Time) (*risk.Evaluation, *models.TradeOrder, error) {
	unlock, err := c.acquire(ctx, market, models.CadenceTick)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	if err := c.settlePendingLocked(ctx, market); err != nil {
		return nil, nil, err
	}
	ev, err := c.risk.Tick(ctx, market, price, now)
	if err != nil || ev == nil || !ev.Exit {
		return ev, nil, err
	}

	c.metrics.RecordForcedExit(market, ev.Reason)
	c.audit.Record(ctx, models.AuditEvent{
		Kind:       models.AuditForcedExit,
		Market:     market,
		Cadence:    models.CadenceTick,
		Action:     models.ActionSell,
		Confidence: 1,
		Reason:     string(ev.Reason),
		Payload: map[string]interface{}{
			"price":       price,
			"pnl":         ev.PnL,
			"entry_price": ev.Position.EntryPrice,
			"stop_loss":   ev.Position.StopLossPrice,
		},
	})

	order, err := c.executeLocked(ctx, models.TradeRequest{
		Market:     market,
		Side:       models.ActionSell,
		Origin:     models.OriginRisk,
		Cadence:    models.CadenceTick,
		Confidence: 1,
		Reason:     string(ev.Reason),
		DecidedAt:  now,
		Price:      price,
	}, nil)
	return ev, order, err
}

// Reconcile settles a PENDING order for market by asking the exchange.
func (c *Coordinator) Reconcile(ctx context.Context, market string) error {
	unlock, err := c.acquire(ctx, market, models.CadenceManual)
	if err != nil {
		return err
	}
	defer unlock()
	return c.settlePendingLocked(context.WithoutCancel(ctx), market)
}

// WithMarketLock runs fn while holding market's lock.
func (c *Coordinator) WithMarketLock(ctx context.Context, market string, fn func(ctx context.Context) error) error {
	unlock, err := c.acquire(ctx, market, models.CadenceManual)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(context.WithoutCancel(ctx))
}

func (c *Coordinator) acquire(ctx context.Context, market string, cadence models.Cadence) (func(), error) {
	start := time.Now()
	unlock, err := c.locker.Lock(ctx, market, c.cfg.LockWait)
	if err != nil {
		if errors.Is(err, models.ErrLockContention) {
			c.metrics.RecordError("lock_contention")
			c.audit.Alert(ctx, market, cadence, err)
		}
		return nil, err
	}
	c.metrics.RecordLatency("lock_wait", time.Since(start).Seconds())
	return unlock, nil
}

func (c *Coordinator) executeLocked(ctx context.Context, req models.TradeRequest, verdict *models.FilterVerdict) (*models.TradeOrder, error) {
	if err := c.settlePendingLocked(ctx, req.Market); err != nil {
		return nil, err
	}

	key := IdempotencyKey(req.Market, req.DecidedAt, req.Cadence)
	prior, err := c.orders.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("order ledger: %w", err)
	}
	if prior != nil {
		c.log.Info("replayed decision, returning recorded order",
			applogger.Market(req.Market), applogger.String("key", key), applogger.String("status", string(prior.Status)))
		return prior, nil
	}

	pos, err := c.positions.Get(ctx, req.Market)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	var amount float64
	switch req.Side {
	case models.ActionBuy:
		if pos != nil {
			err := fmt.Errorf("%s %s: %w", req.Market, pos.State, models.ErrPositionExists)
			c.audit.Alert(ctx, req.Market, req.Cadence, err)
			return nil, err
		}
		release, err := c.reserveSlot(ctx, req)
		if err != nil {
			return nil, err
		}
		defer release()
		amount = c.cfg.TradeAmount
	case models.ActionSell:
		if pos == nil || !pos.State.Active() {
			return nil, fmt.Errorf("%s: %w", req.Market, models.ErrNoPosition)
		}
		if pos.State == models.PositionOpening {
			return nil, fmt.Errorf("%s: %w", req.Market, models.ErrNeedsReconcile)
		}
		amount = pos.Volume
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive order size", models.ErrInvalidTrade)
	}

	now := c.now().UTC()
	order := &models.TradeOrder{
		Market:         req.Market,
		Side:           req.Side,
		Size:           amount,
		IdempotencyKey: key,
		Status:         models.OrderPending,
		Origin:         req.Origin,
		Cadence:        req.Cadence,
		Reason:         req.Reason,
		Confidence:     req.Confidence,
		Verdict:        verdict,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.orders.Put(ctx, order); err != nil {
		return nil, fmt.Errorf("record pending order: %w", err)
	}

	start := time.Now()
	fill, err := c.submit(ctx, models.OrderRequest{
		Market:        req.Market,
		Side:          req.Side,
		Amount:        amount,
		ClientOrderID: key,
	})
	c.metrics.RecordLatency("order_submit", time.Since(start).Seconds())

	switch {
	case err == nil:
		return c.settleFilled(ctx, order, fill, pos)
	case errors.Is(err, service.ErrAmbiguous):
		return c.handleAmbiguous(ctx, order, err)
	default:
		return c.fail(ctx, order, err)
	}
}

// openSlotsLock serializes BUYs across markets while the cap is enforced. It
// is only ever taken while a market lock is held, never the other way round.
const openSlotsLock = "_open_slots"

// reserveSlot holds the cross-market slots lock and checks the cap. The
// returned release must run after the BUY has settled so the next BUY counts
// its position.
func (c *Coordinator) reserveSlot(ctx context.Context, req models.TradeRequest) (func(), error) {
	if c.cfg.MaxOpenPositions <= 0 {
		return func() {}, nil
	}
	release, err := c.locker.Lock(ctx, openSlotsLock, c.cfg.LockWait)
	if err != nil {
		if errors.Is(err, models.ErrLockContention) {
			c.metrics.RecordError("lock_contention")
			c.audit.Alert(ctx, req.Market, req.Cadence, err)
		}
		return nil, err
	}
	if err := c.checkCap(ctx); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (c *Coordinator) checkCap(ctx context.Context) error {
	if c.cfg.MaxOpenPositions <= 0 {
		return nil
	}
	all, err := c.positions.List(ctx)
	if err != nil {
		return fmt.Errorf("count positions: %w", err)
	}
	open := 0
	for _, p := range all {
		if p.State.Active() {
			open++
		}
	}
	if open >= c.cfg.MaxOpenPositions {
		return fmt.Errorf("%d open: %w", open, models.ErrMaxPositions)
	}
	return nil
}

// submit retries definite non-rejections with the same client order id. A
// timeout is reported as ambiguous.
func (c *Coordinator) submit(ctx context.Context, req models.OrderRequest) (*models.Fill, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.OrderRetries; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, c.cfg.OrderTimeout)
		fill, err := c.exchange.PlaceOrder(sctx, req)
		cancel()
		switch {
		case err == nil && fill != nil:
			return fill, nil
		case err == nil:
			return nil, fmt.Errorf("%w: empty fill", service.ErrAmbiguous)
		case errors.Is(err, service.ErrAmbiguous):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", service.ErrAmbiguous, err)
		case errors.Is(err, service.ErrRejected):
			return nil, err
		}
		lastErr = err
		c.log.Warn("order attempt failed",
			applogger.Market(req.Market), applogger.Int("attempt", attempt+1), applogger.Error(err))
	}
	return nil, lastErr
}

func (c *Coordinator) lookup(ctx context.Context, o *models.TradeOrder) (*models.Fill, error) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.OrderTimeout)
	defer cancel()
	return c.exchange.LookupOrder(lctx, o.Market, o.IdempotencyKey)
}

// handleAmbiguous does one reconciliation read. If the outcome is still
// unknown the order stays PENDING, which blocks the market until it is
// settled; an unknown BUY also reserves the market with an OPENING position.
func (c *Coordinator) handleAmbiguous(ctx context.Context, order *models.TradeOrder, cause error) (*models.TradeOrder, error) {
	fill, err := c.lookup(ctx, order)
	if err == nil && fill != nil {
		pos, perr := c.positions.Get(ctx, order.Market)
		if perr != nil {
			return order, fmt.Errorf("load position: %w", perr)
		}
		return c.settleFilled(ctx, order, fill, pos)
	}

	c.log.Warn("order outcome unknown, market blocked until reconciled",
		applogger.Market(order.Market), applogger.String("key", order.IdempotencyKey), applogger.Error(cause))
	if order.Side == models.ActionBuy {
		now := c.now().UTC()
		placeholder := &models.Position{
			Market:    order.Market,
			State:     models.PositionOpening,
			OpenedAt:  now,
			Source:    order.Origin,
			OrderKey:  order.IdempotencyKey,
			UpdatedAt: now,
		}
		if err := c.positions.Create(ctx, placeholder); err != nil {
			c.log.Error("reserve opening position", applogger.Market(order.Market), applogger.Error(err))
		}
	}
	c.metrics.RecordOrder(order.Side, order.Origin, models.OrderPending)
	c.auditOrder(ctx, order)
	return order, fmt.Errorf("%s: %w", order.Market, models.ErrOrderUnknown)
}

// settlePendingLocked resolves an outstanding PENDING order before any new
// action on market.
func (c *Coordinator) settlePendingLocked(ctx context.Context, market string) error {
	pending, err := c.orders.Pending(ctx, market)
	if err != nil {
		return fmt.Errorf("pending order: %w", err)
	}
	if pending == nil || pending.Status != models.OrderPending {
		return nil
	}

	fill, err := c.lookup(ctx, pending)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", market, models.ErrNeedsReconcile, err)
	}
	if fill == nil {
		if c.now().Sub(pending.CreatedAt) < c.cfg.OrderTimeout {
			return fmt.Errorf("%s: %w", market, models.ErrNeedsReconcile)
		}
		_, ferr := c.fail(ctx, pending, errors.New("exchange has no record of the order"))
		if errors.Is(ferr, models.ErrOrderFailed) {
			ferr = nil
		}
		c.audit.Record(ctx, models.AuditEvent{
			Kind: models.AuditReconcile, Market: market, Action: pending.Side,
			Reason: "pending order not found at exchange, marked failed",
		})
		return ferr
	}

	pos, err := c.positions.Get(ctx, market)
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if _, err := c.settleFilled(ctx, pending, fill, pos); err != nil {
		return err
	}
	c.audit.Record(ctx, models.AuditEvent{
		Kind: models.AuditReconcile, Market: market, Action: pending.Side,
		Reason: "pending order found filled at exchange",
	})
	return nil
}

func (c *Coordinator) settleFilled(ctx context.Context, order *models.TradeOrder, fill *models.Fill, pos *models.Position) (*models.TradeOrder, error) {
	now := c.now().UTC()
	if fill.FilledAt.IsZero() {
		fill.FilledAt = now
	}
	order.Status = models.OrderFilled
	order.ExchangeOrderID = fill.OrderID
	order.FilledPrice = fill.Price
	order.FilledVolume = fill.Volume
	order.UpdatedAt = now

	var stateErr error
	switch order.Side {
	case models.ActionBuy:
		opened := c.risk.Open(order.Market, *fill, order.Origin, order.IdempotencyKey)
		if pos != nil && pos.State == models.PositionOpening && pos.OrderKey == order.IdempotencyKey {
			stateErr = c.positions.Update(ctx, pos, &opened)
		} else {
			stateErr = c.positions.Create(ctx, &opened)
		}
	case models.ActionSell:
		if pos != nil {
			stateErr = c.positions.Delete(ctx, pos)
			c.journalClose(ctx, order, fill, pos)
		}
	}
	if stateErr != nil {
		c.audit.Alert(ctx, order.Market, order.Cadence, fmt.Errorf("filled %s not reflected in positions: %w", order.Side, stateErr))
	}

	if order.Origin == models.OriginFiltered && order.Verdict != nil && c.recorder != nil {
		if err := c.recorder.Record(ctx, order.Market, order.Side, order.Confidence, *order.Verdict); err != nil {
			c.log.Error("signal history not updated after fill", applogger.Market(order.Market), applogger.Error(err))
			c.metrics.RecordError("signal_record")
		}
	}

	if err := c.orders.Put(ctx, order); err != nil {
		c.log.Error("order ledger write failed after fill", applogger.Market(order.Market), applogger.Error(err))
	}
	c.metrics.RecordOrder(order.Side, order.Origin, models.OrderFilled)
	c.auditOrder(ctx, order)
	c.log.Info("order filled",
		applogger.Market(order.Market),
		applogger.String("side", string(order.Side)),
		applogger.String("origin", string(order.Origin)),
		applogger.Float64("price", fill.Price),
		applogger.Float64("volume", fill.Volume))
	c.refreshOpenCount(ctx)
	return order, stateErr
}

func (c *Coordinator) journalClose(ctx context.Context, order *models.TradeOrder, fill *models.Fill, pos *models.Position) {
	if c.journal == nil {
		return
	}
	pl := (fill.Price-pos.EntryPrice)*fill.Volume - fill.Fee
	ret := 0.0
	if pos.EntryPrice > 0 {
		ret = (fill.Price - pos.EntryPrice) / pos.EntryPrice
	}
	err := c.journal.RecordClosed(ctx, models.ClosedTrade{
		Market:     order.Market,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		Volume:     fill.Volume,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   fill.FilledAt,
		RealizedPL: pl,
		ReturnPct:  ret * 100,
		Origin:     order.Origin,
		Reason:     order.Reason,
		OrderKey:   order.IdempotencyKey,
	})
	if err != nil {
		c.log.Warn("journal write failed", applogger.Market(order.Market), applogger.Error(err))
	}
}

func (c *Coordinator) fail(ctx context.Context, order *models.TradeOrder, cause error) (*models.TradeOrder, error) {
	order.Status = models.OrderFailed
	order.Error = cause.Error()
	order.UpdatedAt = c.now().UTC()
	if err := c.orders.Put(ctx, order); err != nil {
		c.log.Error("order ledger write failed", applogger.Market(order.Market), applogger.Error(err))
	}

	// Drop the reservation made for an ambiguous buy.
	if order.Side == models.ActionBuy {
		if pos, err := c.positions.Get(ctx, order.Market); err == nil && pos != nil &&
			pos.State == models.PositionOpening && pos.OrderKey == order.IdempotencyKey {
			if err := c.positions.Delete(ctx, pos); err != nil {
				c.log.Error("release opening position", applogger.Market(order.Market), applogger.Error(err))
			}
		}
	}

	c.metrics.RecordOrder(order.Side, order.Origin, models.OrderFailed)
	c.auditOrder(ctx, order)
	c.log.Warn("order failed",
		applogger.Market(order.Market), applogger.String("side", string(order.Side)), applogger.Error(cause))
	return order, fmt.Errorf("%s %s: %w: %v", order.Market, order.Side, models.ErrOrderFailed, cause)
}

func (c *Coordinator) auditOrder(ctx context.Context, o *models.TradeOrder) {
	c.audit.Record(ctx, models.AuditEvent{
		Kind:       models.AuditOrder,
		Market:     o.Market,
		Cadence:    o.Cadence,
		Action:     o.Side,
		Confidence: o.Confidence,
		Reason:     o.Reason,
		Payload: map[string]interface{}{
			"status":          o.Status,
			"origin":          o.Origin,
			"size":            o.Size,
			"idempotency_key": o.IdempotencyKey,
			"filled_price":    o.FilledPrice,
			"filled_volume":   o.FilledVolume,
			"error":           o.Error,
		},
	})
}

func (c *Coordinator) refreshOpenCount(ctx context.Context) {
	all, err := c.positions.List(ctx)
	if err != nil {
		return
	}
	c.metrics.RecordOpenPositions(len(all))
}
