package repository

import (
	"context"
	"time"

	"AutoTrader/internal/domain/models"
)

// SignalStore persists the last allowed direction per market. Writes are
// conditional on the previously read record.
type SignalStore interface {
	Get(ctx context.Context, market string) (*models.SignalRecord, error)
	Swap(ctx context.Context, prev, next *models.SignalRecord) error
	Delete(ctx context.Context, market string) error
}

// EmergencyStore holds per-market cooldown state.
type EmergencyStore interface {
	Get(ctx context.Context, market string) (*models.EmergencyState, error)
	// Claim atomically installs next only if the current state is not
	// cooling down at now. It returns false when another caller holds the
	// cooldown.
	Claim(ctx context.Context, next *models.EmergencyState, now time.Time) (bool, error)
}

// PositionStore holds active positions, keyed by market.
type PositionStore interface {
	Get(ctx context.Context, market string) (*models.Position, error)
	List(ctx context.Context) ([]*models.Position, error)
	Create(ctx context.Context, p *models.Position) error
	Update(ctx context.Context, prev, next *models.Position) error
	Delete(ctx context.Context, prev *models.Position) error
}

// OrderStore is the coordinator's idempotency ledger.
type OrderStore interface {
	Get(ctx context.Context, key string) (*models.TradeOrder, error)
	Put(ctx context.Context, o *models.TradeOrder) error
	Pending(ctx context.Context, market string) (*models.TradeOrder, error)
}

// CandleStore provides read-only access to historical bars.
type CandleStore interface {
	GetLatestNCandles(ctx context.Context, market string, n int, tf models.Timeframe) ([]models.Candle, error)
}

// PriceSource returns the freshest known tick for a market.
type PriceSource interface {
	LastTick(ctx context.Context, market string) (models.Tick, error)
}

// AuditSink is the write-only decision log.
type AuditSink interface {
	Record(ctx context.Context, e models.AuditEvent) error
}

// Journal records closed trades.
type Journal interface {
	RecordClosed(ctx context.Context, t models.ClosedTrade) error
	Recent(ctx context.Context, market string, limit int) ([]models.ClosedTrade, error)
}

// Notifier pushes operator alerts.
type Notifier interface {
	Notify(ctx context.Context, e models.AuditEvent) error
}

type Metrics interface {
	RecordDecision(market string, action models.Action)
	RecordFilterVerdict(kind models.VerdictKind, allowed bool)
	RecordVerification(approved bool)
	RecordEmergency(market string, action models.Action)
	RecordForcedExit(market string, reason models.ExitReason)
	RecordOrder(side models.Action, origin models.Origin, status models.OrderStatus)
	RecordOpenPositions(n int)
	RecordLastPrice(market string, price float64)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}
