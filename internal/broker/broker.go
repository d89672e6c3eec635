// Package broker defines the boundary to the market: quote/tick feeds,
// instrument resolution and the order API. The engine only ever sees these
// interfaces; paper and live implementations live behind them.
package broker

import (
	"context"
	"time"

	"optexec/internal/types"
)

// SubmitResult is the broker's acknowledgment of an order submission.
type SubmitResult struct {
	BrokerOrderID string
	Accepted      bool
	RejectReason  string
}

// OrderState is the broker-side view of a working order.
type OrderState struct {
	BrokerOrderID string
	Status        types.OrderStatus
	FillPrice     float64
	FilledQty     int
	UpdatedAt     time.Time
}

// OrderAPI places and manages orders. Implementations must be safe for use
// from a single goroutine; the engine serializes all calls.
type OrderAPI interface {
	// Submit places a limit order and returns the broker order id.
	Submit(ctx context.Context, intent types.OrderIntent, limitPrice float64) (SubmitResult, error)
	// Status fetches the current state of a working order.
	Status(ctx context.Context, brokerOrderID string) (OrderState, error)
	// Cancel cancels a working order. Cancelling a filled order is an error.
	Cancel(ctx context.Context, brokerOrderID string) error
	// Quote returns the current quote for a symbol.
	Quote(ctx context.Context, symbol string) (types.QuoteSnapshot, error)
	// Balance returns the available account balance.
	Balance(ctx context.Context) (float64, error)
	// MarginRequired estimates the margin for a prospective order.
	MarginRequired(ctx context.Context, symbol string, quantity int, price float64) (float64, error)
}

// InstrumentResolver maps a strike and direction to a tradeable contract.
type InstrumentResolver interface {
	// Resolve returns the instrument for the given underlying, strike,
	// option type and nearest expiry at or after now.
	Resolve(ctx context.Context, underlying string, strike int, direction types.Direction, now time.Time) (types.Instrument, error)
	// DaysToExpiry returns whole days until the resolved contract expires.
	DaysToExpiry(inst types.Instrument, now time.Time) int
}

// MarketFeed streams ticks for subscribed symbols. Ticks arrive on the
// channel returned by Ticks; the feed owns reconnection.
type MarketFeed interface {
	Subscribe(ctx context.Context, symbols []string) error
	Ticks() <-chan types.Tick
	// VIX returns the latest India VIX value pushed by the feed.
	VIX() float64
	Close() error
}

// TokenValidator reports whether the broker session token is still usable.
// Live brokers invalidate tokens mid-session; paper trading always passes.
type TokenValidator interface {
	ValidateToken(ctx context.Context) error
}
