package broker

import (
	"context"

	"golang.org/x/time/rate"

	"optexec/internal/types"
)

// RateLimited wraps an OrderAPI with per-call rate limits so the engine can
// never exceed the broker's API quotas. Order mutations and quote reads are
// throttled independently.
type RateLimited struct {
	inner  OrderAPI
	orders *rate.Limiter
	quotes *rate.Limiter
}

// NewRateLimited builds the wrapper. ordersPerSec and quotesPerSec must be
// positive; bursts equal the per-second rate.
func NewRateLimited(inner OrderAPI, ordersPerSec, quotesPerSec int) *RateLimited {
	if ordersPerSec <= 0 {
		ordersPerSec = 1
	}
	if quotesPerSec <= 0 {
		quotesPerSec = 1
	}
	return &RateLimited{
		inner:  inner,
		orders: rate.NewLimiter(rate.Limit(ordersPerSec), ordersPerSec),
		quotes: rate.NewLimiter(rate.Limit(quotesPerSec), quotesPerSec),
	}
}

func (r *RateLimited) Submit(ctx context.Context, intent types.OrderIntent, limitPrice float64) (SubmitResult, error) {
	if err := r.orders.Wait(ctx); err != nil {
		return SubmitResult{}, err
	}
	return r.inner.Submit(ctx, intent, limitPrice)
}

func (r *RateLimited) Status(ctx context.Context, brokerOrderID string) (OrderState, error) {
	if err := r.quotes.Wait(ctx); err != nil {
		return OrderState{}, err
	}
	return r.inner.Status(ctx, brokerOrderID)
}

func (r *RateLimited) Cancel(ctx context.Context, brokerOrderID string) error {
	if err := r.orders.Wait(ctx); err != nil {
		return err
	}
	return r.inner.Cancel(ctx, brokerOrderID)
}

func (r *RateLimited) Quote(ctx context.Context, symbol string) (types.QuoteSnapshot, error) {
	if err := r.quotes.Wait(ctx); err != nil {
		return types.QuoteSnapshot{}, err
	}
	return r.inner.Quote(ctx, symbol)
}

func (r *RateLimited) Balance(ctx context.Context) (float64, error) {
	if err := r.quotes.Wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.Balance(ctx)
}

func (r *RateLimited) MarginRequired(ctx context.Context, symbol string, quantity int, price float64) (float64, error) {
	if err := r.quotes.Wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.MarginRequired(ctx, symbol, quantity, price)
}
