package models

import "time"

type AuditKind string

const (
	AuditDecision         AuditKind = "decision"
	AuditFilterVerdict    AuditKind = "filter_verdict"
	AuditVerification     AuditKind = "verification"
	AuditEmergency        AuditKind = "emergency_trigger"
	AuditForcedExit       AuditKind = "forced_exit"
	AuditOrder            AuditKind = "order"
	AuditNoAction         AuditKind = "no_action"
	AuditReconcile        AuditKind = "reconcile"
	AuditCorrectnessAlert AuditKind = "correctness_alert"
)

// AuditEvent is one append-only line of the decision log.
type AuditEvent struct {
	ID         string                 `json:"id"`
	Kind       AuditKind              `json:"kind"`
	Market     string                 `json:"market"`
	Cadence    Cadence                `json:"cadence,omitempty"`
	Action     Action                 `json:"action,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Reason     string                 `json:"reason"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
