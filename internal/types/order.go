package types

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusSubmitted      OrderStatus = "SUBMITTED"
	OrderStatusRetryScheduled OrderStatus = "RETRY_SCHEDULED"
	OrderStatusFilled         OrderStatus = "FILLED"
	OrderStatusRejected       OrderStatus = "REJECTED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusFailed         OrderStatus = "FAILED_PERMANENT"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// OrderIntent is the immutable request to trade produced by the signal
// generator, the exit prioritizer or the circuit breaker. Exactly one
// terminal order outcome exists per intent.
type OrderIntent struct {
	IntentID       string    `json:"intent_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Side           Side      `json:"side"`
	Symbol         string    `json:"symbol"`
	Strike         int       `json:"strike"`
	Quantity       int       `json:"quantity"`
	PriceHint      float64   `json:"price_hint"`
	Reason         string    `json:"reason"`
	PositionID     string    `json:"position_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order tracks one submission lifecycle for an intent. Owned exclusively by
// the order executor.
type Order struct {
	OrderID       string      `json:"order_id"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	IntentID      string      `json:"intent_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Quantity      int         `json:"quantity"`
	Attempt       int         `json:"attempt"`
	LimitPrice    float64     `json:"limit_price"`
	Status        OrderStatus `json:"status"`
	FillPrice     float64     `json:"fill_price,omitempty"`
	FillTime      time.Time   `json:"fill_time,omitempty"`
	FailReason    string      `json:"fail_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// QuoteSnapshot captures the market at the moment an order gave up. Attached
// to permanent-failure records so the audit trail shows what the engine saw.
type QuoteSnapshot struct {
	Symbol string    `json:"symbol"`
	LTP    float64   `json:"ltp"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	At     time.Time `json:"at"`
}
