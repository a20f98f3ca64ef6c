package models

import "time"

// SignalRecord is the last allowed trade direction per market.
type SignalRecord struct {
	Market     string    `json:"market"`
	Direction  Action    `json:"direction"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (r *SignalRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// VerdictKind names the filter rule that produced a verdict.
type VerdictKind string

const (
	VerdictHold         VerdictKind = "hold"
	VerdictFirst        VerdictKind = "first"
	VerdictReversal     VerdictKind = "reversal"
	VerdictEscalation   VerdictKind = "escalation"
	VerdictRedundant    VerdictKind = "redundant"
	VerdictContinuation VerdictKind = "continuation"
	VerdictStoreError   VerdictKind = "store_error"
)

// FilterVerdict is the Signal Filter's answer. Prior is the record the verdict
// was computed against; the follow-up write is conditional on it.
type FilterVerdict struct {
	Allowed bool          `json:"allowed"`
	Kind    VerdictKind   `json:"kind"`
	Reason  string        `json:"reason"`
	Prior   *SignalRecord `json:"prior,omitempty"`
}
