package models

// Action is a directional intent. HOLD never reaches execution.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) IsDirectional() bool { return a == ActionBuy || a == ActionSell }

// Opposite returns the other direction; HOLD maps to itself.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	}
	return ActionHold
}

// Cadence identifies the loop that produced a decision.
type Cadence string

const (
	CadenceRegular   Cadence = "regular"
	CadenceTick      Cadence = "tick"
	CadenceEmergency Cadence = "emergency"
	CadenceManual    Cadence = "manual"
)

// Origin tells the coordinator which path a trade request came from. Only
// filtered trades update the signal history.
type Origin string

const (
	OriginFiltered  Origin = "filtered"
	OriginEmergency Origin = "emergency"
	OriginRisk      Origin = "risk"
	OriginReconcile Origin = "reconcile"
)
