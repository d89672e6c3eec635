package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/logger"
	"optexec/internal/pkg/trading"
	"optexec/internal/types"
)

// Result is the terminal outcome of executing one intent. FinalQuote is set
// only on permanent failure, capturing what the market looked like when the
// executor gave up.
type Result struct {
	Order      types.Order
	FinalQuote *types.QuoteSnapshot
	Duplicate  bool
}

// Executor walks the price retry ladder for one intent at a time. Each rung
// submits a limit order at LTP adjusted by the rung's offset, waits for a
// fill, cancels on timeout and moves to the next rung after its backoff.
type Executor struct {
	api    broker.OrderAPI
	ledger ReservationLedger
	cfg    config.OrdersConfig
	tick   float64

	// onSubmit, when set, observes every accepted broker submission.
	onSubmit func(order types.Order, intent types.OrderIntent)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(api broker.OrderAPI, ledger ReservationLedger, cfg config.OrdersConfig, tickSize float64) *Executor {
	return &Executor{
		api:    api,
		ledger: ledger,
		cfg:    cfg,
		tick:   tickSize,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// OnSubmit registers a callback invoked after each accepted submission.
// Must be set before Execute is first called.
func (e *Executor) OnSubmit(fn func(order types.Order, intent types.OrderIntent)) {
	e.onSubmit = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs the intent to a terminal state. The idempotency key is
// reserved first; a duplicate key short-circuits with Duplicate=true and no
// broker interaction. Only a fill consumes the key: a ladder that ends in
// rejection or exhaustion releases it, so the same logical action (an exit
// for a still-open position, in particular) can be attempted again.
func (e *Executor) Execute(ctx context.Context, intent types.OrderIntent) (Result, error) {
	reserved, err := e.ledger.Reserve(ctx, intent.IdempotencyKey)
	if err != nil {
		return Result{}, fmt.Errorf("reserve %s: %w", intent.IntentID, err)
	}
	if !reserved {
		logger.Warnf("intent %s: duplicate idempotency key, ignored", intent.IntentID)
		return Result{Duplicate: true}, nil
	}

	res, err := e.runLadder(ctx, intent)
	if err != nil {
		// ctx is likely dead here; release on a fresh context so the key
		// does not stay reserved with nothing filled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := e.ledger.Release(rctx, intent.IdempotencyKey); rerr != nil {
			logger.Errorf("intent %s: release after abort failed: %v", intent.IntentID, rerr)
		}
		return Result{}, err
	}
	if res.Order.Status == types.OrderStatusFilled {
		if err := e.ledger.Settle(ctx, intent.IdempotencyKey, string(res.Order.Status)); err != nil {
			return Result{}, fmt.Errorf("settle %s: %w", intent.IntentID, err)
		}
	} else if err := e.ledger.Release(ctx, intent.IdempotencyKey); err != nil {
		return Result{}, fmt.Errorf("release %s: %w", intent.IntentID, err)
	}
	return res, nil
}

func (e *Executor) runLadder(ctx context.Context, intent types.OrderIntent) (Result, error) {
	order := types.Order{
		OrderID:   uuid.NewString(),
		IntentID:  intent.IntentID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Quantity:  intent.Quantity,
		Status:    types.OrderStatusCreated,
		CreatedAt: e.now(),
	}
	retryCap := time.Duration(e.cfg.RetryCapSec) * time.Second
	var backoffSpent time.Duration
	var lastErr error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		// The cap bounds cumulative backoff between rungs, not the time
		// spent waiting for fills.
		wait := time.Duration(e.cfg.RetryBackoffsSec[attempt]) * time.Second
		if attempt > 0 && backoffSpent+wait > retryCap {
			logger.Warnf("intent %s: retry cap %s reached after %d attempts", intent.IntentID, retryCap, attempt)
			break
		}
		if err := e.sleep(ctx, wait); err != nil {
			return Result{}, err
		}
		backoffSpent += wait

		quote, err := e.api.Quote(ctx, intent.Symbol)
		if err != nil {
			lastErr = err
			logger.Warnf("intent %s attempt %d: quote failed: %v", intent.IntentID, attempt+1, err)
			continue
		}
		limit := e.rungPrice(intent.Side, quote.LTP, e.cfg.RetryStepsPct[attempt])

		order.Attempt = attempt + 1
		order.LimitPrice = limit
		order.Status = types.OrderStatusSubmitted
		order.UpdatedAt = e.now()

		sub, err := e.api.Submit(ctx, intent, limit)
		if err != nil {
			lastErr = err
			order.Status = types.OrderStatusRetryScheduled
			logger.Warnf("intent %s attempt %d: submit failed: %v", intent.IntentID, attempt+1, err)
			continue
		}
		if !sub.Accepted {
			order.Status = types.OrderStatusRejected
			order.FailReason = sub.RejectReason
			order.UpdatedAt = e.now()
			logger.Warnf("intent %s: broker rejected: %s", intent.IntentID, sub.RejectReason)
			return Result{Order: order}, nil
		}
		order.BrokerOrderID = sub.BrokerOrderID
		if e.onSubmit != nil {
			e.onSubmit(order, intent)
		}

		filled, state, err := e.awaitFill(ctx, sub.BrokerOrderID)
		if err != nil {
			return Result{}, err
		}
		if filled {
			order.Status = types.OrderStatusFilled
			order.FillPrice = state.FillPrice
			order.FillTime = state.UpdatedAt
			order.UpdatedAt = e.now()
			logger.Infof("intent %s: filled attempt %d qty=%d @ %.2f", intent.IntentID, attempt+1, intent.Quantity, state.FillPrice)
			return Result{Order: order}, nil
		}
		if err := e.api.Cancel(ctx, sub.BrokerOrderID); err != nil {
			// The cancel may have raced a fill.
			if st, serr := e.api.Status(ctx, sub.BrokerOrderID); serr == nil && st.Status == types.OrderStatusFilled {
				order.Status = types.OrderStatusFilled
				order.FillPrice = st.FillPrice
				order.FillTime = st.UpdatedAt
				order.UpdatedAt = e.now()
				return Result{Order: order}, nil
			}
			lastErr = err
		}
		order.Status = types.OrderStatusRetryScheduled
		order.UpdatedAt = e.now()
		logger.Infof("intent %s: attempt %d unfilled, next rung", intent.IntentID, attempt+1)
	}

	order.Status = types.OrderStatusFailed
	if lastErr != nil {
		order.FailReason = lastErr.Error()
	} else {
		order.FailReason = "retry ladder exhausted"
	}
	order.UpdatedAt = e.now()

	var final *types.QuoteSnapshot
	if q, err := e.api.Quote(ctx, intent.Symbol); err == nil {
		final = &q
	}
	logger.Errorf("intent %s: permanent failure: %s", intent.IntentID, order.FailReason)
	return Result{Order: order, FinalQuote: final}, nil
}

// rungPrice offsets LTP in the aggressive direction for the rung and snaps
// to the tick grid: buys pay up, sells give way.
func (e *Executor) rungPrice(side types.Side, ltp, stepPct float64) float64 {
	var raw float64
	if side == types.SideBuy {
		raw = ltp * (1 + stepPct/100)
	} else {
		raw = ltp * (1 - stepPct/100)
	}
	return trading.RoundToTick(raw, e.tick)
}

// awaitFill polls order status until filled or the fill timeout lapses.
func (e *Executor) awaitFill(ctx context.Context, brokerOrderID string) (bool, broker.OrderState, error) {
	deadline := e.now().Add(time.Duration(e.cfg.FillTimeoutSec) * time.Second)
	poll := time.Duration(e.cfg.FillPollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		state, err := e.api.Status(ctx, brokerOrderID)
		if err == nil {
			switch state.Status {
			case types.OrderStatusFilled:
				return true, state, nil
			case types.OrderStatusRejected, types.OrderStatusCancelled:
				return false, state, nil
			}
		} else {
			logger.Warnf("order %s: status poll failed: %v", brokerOrderID, err)
		}
		if !e.now().Before(deadline) {
			return false, state, nil
		}
		if err := e.sleep(ctx, poll); err != nil {
			return false, broker.OrderState{}, err
		}
	}
}
