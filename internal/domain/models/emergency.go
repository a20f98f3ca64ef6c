package models

import "time"

// EmergencyState is the per-market cooldown bookkeeping of the guard.
type EmergencyState struct {
	Market        string    `json:"market"`
	CooldownUntil time.Time `json:"cooldown_until"`
	LastReason    string    `json:"last_reason"`
	LastAction    Action    `json:"last_action"`
	TriggeredAt   time.Time `json:"triggered_at"`
}

func (s *EmergencyState) CoolingDown(now time.Time) bool {
	return s != nil && now.Before(s.CooldownUntil)
}

// WindowMetrics are short-window statistics derived from 1-minute bars and
// the latest tick.
type WindowMetrics struct {
	Market          string    `json:"market"`
	Price           float64   `json:"price"`
	Return1m        float64   `json:"return_1m"`
	Return3m        float64   `json:"return_3m"`
	Return5m        float64   `json:"return_5m"`
	VolumeMultiple  float64   `json:"volume_multiple"`
	VolatilityRatio float64   `json:"volatility_ratio"`
	Falling         bool      `json:"falling"`
	ObservedAt      time.Time `json:"observed_at"`
}

// EmergencySignal is a triggered emergency action.
type EmergencySignal struct {
	Market      string        `json:"market"`
	Action      Action        `json:"action"`
	Confidence  float64       `json:"confidence"`
	Reason      string        `json:"reason"`
	Metrics     WindowMetrics `json:"metrics"`
	TriggeredAt time.Time     `json:"triggered_at"`
}
