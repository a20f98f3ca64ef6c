package models

import "time"

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderFilled  OrderStatus = "FILLED"
	OrderFailed  OrderStatus = "FAILED"
)

// TradeRequest is what a cadence hands to the execution coordinator.
type TradeRequest struct {
	Market     string    `json:"market"`
	Side       Action    `json:"side"`
	Origin     Origin    `json:"origin"`
	Cadence    Cadence   `json:"cadence"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	DecidedAt  time.Time `json:"decided_at"`
	// Price is the reference price at decision time.
	Price float64 `json:"price"`
}

// TradeOrder is the coordinator's record of one submission attempt.
type TradeOrder struct {
	Market         string      `json:"market"`
	Side           Action      `json:"side"`
	Size           float64     `json:"size"`
	IdempotencyKey string      `json:"idempotency_key"`
	Status         OrderStatus `json:"status"`
	Origin         Origin      `json:"origin"`
	Cadence        Cadence     `json:"cadence"`
	Reason         string      `json:"reason"`
	Confidence     float64     `json:"confidence"`
	// Verdict is kept so a filtered order settled later can still update
	// the signal history.
	Verdict         *FilterVerdict `json:"verdict,omitempty"`
	ExchangeOrderID string         `json:"exchange_order_id,omitempty"`
	FilledPrice     float64        `json:"filled_price,omitempty"`
	FilledVolume    float64        `json:"filled_volume,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// OrderRequest is sent to the exchange. For buys Amount is quote currency,
// for sells it is base volume.
type OrderRequest struct {
	Market        string  `json:"market"`
	Side          Action  `json:"side"`
	Amount        float64 `json:"amount"`
	ClientOrderID string  `json:"client_order_id"`
}

// Fill is the exchange's confirmation of an executed order.
type Fill struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Market        string    `json:"market"`
	Side          Action    `json:"side"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Fee           float64   `json:"fee"`
	FilledAt      time.Time `json:"filled_at"`
}
