package metrics

import "AutoTrader/internal/domain/models"

// Noop discards every observation.
type Noop struct{}

func (Noop) RecordDecision(string, models.Action)                         {}
func (Noop) RecordFilterVerdict(models.VerdictKind, bool)                 {}
func (Noop) RecordVerification(bool)                                      {}
func (Noop) RecordEmergency(string, models.Action)                        {}
func (Noop) RecordForcedExit(string, models.ExitReason)                   {}
func (Noop) RecordOrder(models.Action, models.Origin, models.OrderStatus) {}
func (Noop) RecordOpenPositions(int)                                      {}
func (Noop) RecordLastPrice(string, float64)                              {}
func (Noop) RecordError(string)                                           {}
func (Noop) RecordLatency(string, float64)                                {}
