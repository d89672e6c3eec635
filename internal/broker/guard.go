package broker

import (
	"context"
	"errors"
	"time"

	"optexec/internal/pkg/circuit"
	"optexec/internal/types"
)

// ErrBrokerUnavailable is returned while the API circuit breaker is open.
var ErrBrokerUnavailable = errors.New("broker API circuit open")

// Guarded protects an OrderAPI behind a failure-counting circuit breaker so
// a flapping broker API cannot be hammered in a tight loop. This guards API
// availability only; the market-level VIX breaker lives elsewhere.
type Guarded struct {
	inner OrderAPI
	cb    *circuit.CircuitBreaker
}

func NewGuarded(inner OrderAPI, threshold int, cooloff time.Duration) *Guarded {
	return &Guarded{
		inner: inner,
		cb:    circuit.NewCircuitBreaker("broker-api", threshold, cooloff),
	}
}

func (g *Guarded) call(fn func() error) error {
	if !g.cb.Allow() {
		return ErrBrokerUnavailable
	}
	if err := fn(); err != nil {
		g.cb.RecordFailure()
		return err
	}
	g.cb.RecordSuccess()
	return nil
}

func (g *Guarded) Submit(ctx context.Context, intent types.OrderIntent, limitPrice float64) (SubmitResult, error) {
	var out SubmitResult
	err := g.call(func() error {
		var err error
		out, err = g.inner.Submit(ctx, intent, limitPrice)
		return err
	})
	return out, err
}

func (g *Guarded) Status(ctx context.Context, brokerOrderID string) (OrderState, error) {
	var out OrderState
	err := g.call(func() error {
		var err error
		out, err = g.inner.Status(ctx, brokerOrderID)
		return err
	})
	return out, err
}

func (g *Guarded) Cancel(ctx context.Context, brokerOrderID string) error {
	return g.call(func() error { return g.inner.Cancel(ctx, brokerOrderID) })
}

func (g *Guarded) Quote(ctx context.Context, symbol string) (types.QuoteSnapshot, error) {
	var out types.QuoteSnapshot
	err := g.call(func() error {
		var err error
		out, err = g.inner.Quote(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Guarded) Balance(ctx context.Context) (float64, error) {
	var out float64
	err := g.call(func() error {
		var err error
		out, err = g.inner.Balance(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) MarginRequired(ctx context.Context, symbol string, quantity int, price float64) (float64, error) {
	var out float64
	err := g.call(func() error {
		var err error
		out, err = g.inner.MarginRequired(ctx, symbol, quantity, price)
		return err
	})
	return out, err
}
