package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	applogger "AutoTrader/pkg/logger"
)

// Auditor appends to the decision log and forwards the events an operator
// should see. Sink failures are logged and never fail the caller.
type Auditor struct {
	sink     domrepo.AuditSink
	notifier domrepo.Notifier
	log      *applogger.Logger
	now      func() time.Time
}

func NewAuditor(sink domrepo.AuditSink, notifier domrepo.Notifier, log *applogger.Logger) *Auditor {
	if log == nil {
		log = applogger.NewNop()
	}
	return &Auditor{sink: sink, notifier: notifier, log: log, now: time.Now}
}

func (a *Auditor) Record(ctx context.Context, e models.AuditEvent) {
	if a == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now().UTC()
	}
	if a.sink != nil {
		if err := a.sink.Record(ctx, e); err != nil {
			a.log.Warn("audit write failed",
				applogger.Market(e.Market), applogger.String("kind", string(e.Kind)), applogger.Error(err))
		}
	}
	if a.notifier != nil && notifiable(e) {
		if err := a.notifier.Notify(ctx, e); err != nil {
			a.log.Warn("notify failed", applogger.Market(e.Market), applogger.Error(err))
		}
	}
}

// Alert records a correctness alert: an invariant the system relies on was
// about to be broken.
func (a *Auditor) Alert(ctx context.Context, market string, cadence models.Cadence, err error) {
	if a == nil {
		return
	}
	a.log.Error("correctness alert", applogger.Market(market), applogger.String("cadence", string(cadence)), applogger.Error(err))
	a.Record(ctx, models.AuditEvent{
		Kind:    models.AuditCorrectnessAlert,
		Market:  market,
		Cadence: cadence,
		Reason:  err.Error(),
	})
}

func notifiable(e models.AuditEvent) bool {
	switch e.Kind {
	case models.AuditEmergency, models.AuditForcedExit, models.AuditCorrectnessAlert, models.AuditReconcile:
		return true
	case models.AuditOrder:
		status, _ := e.Payload["status"].(models.OrderStatus)
		return status == models.OrderFilled || status == models.OrderPending
	}
	return false
}
