package models

import "errors"

var (
	ErrInsufficientData = errors.New("insufficient market data")
	ErrStaleData        = errors.New("stale market data")

	ErrFilterDenied   = errors.New("signal filter denied")
	ErrNotVerified    = errors.New("verification rejected")
	ErrHoldDecision   = errors.New("hold is not executable")
	ErrInvalidTrade   = errors.New("invalid trade request")
	ErrMaxPositions   = errors.New("max open positions reached")
	ErrNoPosition     = errors.New("no open position")
	ErrOrderFailed    = errors.New("order failed")
	ErrOrderUnknown   = errors.New("order status unknown")
	ErrNeedsReconcile = errors.New("market awaiting reconciliation")

	// Invariant faults: rejected at the coordinator and reported as
	// correctness alerts.
	ErrPositionExists = errors.New("position already open")
	ErrLockContention = errors.New("market lock contention")
)

// IsInvariantFault reports errors that indicate a correctness bug rather than
// a normal refusal.
func IsInvariantFault(err error) bool {
	return errors.Is(err, ErrPositionExists) || errors.Is(err, ErrLockContention)
}
