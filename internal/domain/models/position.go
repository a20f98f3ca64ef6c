package models

import "time"

type PositionState string

const (
	PositionOpening  PositionState = "OPENING"
	PositionOpen     PositionState = "OPEN"
	PositionTrailing PositionState = "TRAILING"
	PositionClosing  PositionState = "CLOSING"
	PositionClosed   PositionState = "CLOSED"
)

// Active reports whether the position still counts against the open cap.
func (s PositionState) Active() bool {
	return s != PositionClosed && s != ""
}

// Position is a long holding in one market. Stops only ever move up.
type Position struct {
	Market                string        `json:"market"`
	EntryPrice            float64       `json:"entry_price"`
	Volume                float64       `json:"volume"`
	OpenedAt              time.Time     `json:"opened_at"`
	State                 PositionState `json:"state"`
	StopLossPrice         float64       `json:"stop_loss_price"`
	TakeProfitPrice       float64       `json:"take_profit_price"`
	TrailingHighWatermark float64       `json:"trailing_high_watermark"`
	TrailingStopPrice     float64       `json:"trailing_stop_price"`
	BreakevenArmed        bool          `json:"breakeven_armed"`
	Source                Origin        `json:"source"`
	OrderKey              string        `json:"order_key,omitempty"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// PnL returns the fractional profit at price.
func (p *Position) PnL(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// ExitReason names why the risk manager forced a position out.
type ExitReason string

const (
	ExitHardStop     ExitReason = "hard_stop"
	ExitImmediateCut ExitReason = "immediate_cut"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTimeout      ExitReason = "timeout"
)

// ClosedTrade is a journal entry written when a position is closed.
type ClosedTrade struct {
	Market     string    `json:"market"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Volume     float64   `json:"volume"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	RealizedPL float64   `json:"realized_pl"`
	ReturnPct  float64   `json:"return_pct"`
	Origin     Origin    `json:"origin"`
	Reason     string    `json:"reason"`
	OrderKey   string    `json:"order_key"`
}
