package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/types"
)

// fakeLedger is an in-memory ReservationLedger.
type fakeLedger struct {
	reserved map[string]bool
	settled  map[string]string
	released []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{reserved: make(map[string]bool), settled: make(map[string]string)}
}

func (l *fakeLedger) Reserve(_ context.Context, key string) (bool, error) {
	if l.reserved[key] {
		return false, nil
	}
	l.reserved[key] = true
	return true, nil
}

func (l *fakeLedger) Settle(_ context.Context, key, outcome string) error {
	if !l.reserved[key] {
		return errors.New("settle of unreserved key")
	}
	l.settled[key] = outcome
	return nil
}

func (l *fakeLedger) Release(_ context.Context, key string) error {
	if _, ok := l.settled[key]; ok {
		return nil
	}
	delete(l.reserved, key)
	l.released = append(l.released, key)
	return nil
}

// fakeAPI scripts one broker behavior per submission attempt.
type attemptScript struct {
	submitErr    error
	rejectReason string // non-empty -> rejected
	fills        bool
	fillPrice    float64
}

type fakeAPI struct {
	ltp     float64
	scripts []attemptScript

	submits   []float64 // limit price per submission
	cancels   int
	statusSeq int
	orders    map[string]attemptScript
}

func newFakeAPI(ltp float64, scripts ...attemptScript) *fakeAPI {
	return &fakeAPI{ltp: ltp, scripts: scripts, orders: make(map[string]attemptScript)}
}

func (a *fakeAPI) Submit(_ context.Context, _ types.OrderIntent, limitPrice float64) (broker.SubmitResult, error) {
	idx := len(a.submits)
	a.submits = append(a.submits, limitPrice)
	if idx >= len(a.scripts) {
		idx = len(a.scripts) - 1
	}
	s := a.scripts[idx]
	if s.submitErr != nil {
		return broker.SubmitResult{}, s.submitErr
	}
	if s.rejectReason != "" {
		return broker.SubmitResult{Accepted: false, RejectReason: s.rejectReason}, nil
	}
	id := fmt.Sprintf("B-%d", idx)
	a.orders[id] = s
	return broker.SubmitResult{BrokerOrderID: id, Accepted: true}, nil
}

func (a *fakeAPI) Status(_ context.Context, brokerOrderID string) (broker.OrderState, error) {
	s, ok := a.orders[brokerOrderID]
	if !ok {
		return broker.OrderState{}, errors.New("unknown order")
	}
	if s.fills {
		return broker.OrderState{BrokerOrderID: brokerOrderID, Status: types.OrderStatusFilled, FillPrice: s.fillPrice}, nil
	}
	return broker.OrderState{BrokerOrderID: brokerOrderID, Status: types.OrderStatusSubmitted}, nil
}

func (a *fakeAPI) Cancel(_ context.Context, _ string) error {
	a.cancels++
	return nil
}

func (a *fakeAPI) Quote(_ context.Context, symbol string) (types.QuoteSnapshot, error) {
	return types.QuoteSnapshot{Symbol: symbol, LTP: a.ltp, Bid: a.ltp - 0.05, Ask: a.ltp + 0.05}, nil
}

func (a *fakeAPI) Balance(context.Context) (float64, error) { return 500_000, nil }

func (a *fakeAPI) MarginRequired(_ context.Context, _ string, qty int, price float64) (float64, error) {
	return price * float64(qty), nil
}

func ordersCfg() config.OrdersConfig {
	return config.OrdersConfig{
		RetryStepsPct:      []float64{0, 0.25, 0.50, 0.75, 1.00},
		RetryBackoffsSec:   []int{0, 2, 4, 8, 16},
		MaxAttempts:        5,
		RetryCapSec:        30,
		FillTimeoutSec:     60,
		FillPollIntervalMS: 500,
	}
}

// newTestExecutor injects a fake clock that jumps forward on every sleep, so
// backoffs and fill timeouts elapse instantly.
func newTestExecutor(api broker.OrderAPI, ledger ReservationLedger) *Executor {
	e := New(api, ledger, ordersCfg(), 0.05)
	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	e.sleep = func(_ context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return nil
	}
	return e
}

func intentFor(key string) types.OrderIntent {
	return types.OrderIntent{
		IntentID:       "intent-1",
		IdempotencyKey: key,
		Side:           types.SideBuy,
		Symbol:         "NIFTY24AUG23450CE",
		Quantity:       150,
	}
}

func TestExecuteFillsOnFirstRung(t *testing.T) {
	api := newFakeAPI(150, attemptScript{fills: true, fillPrice: 150.05})
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, types.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 150.05, res.Order.FillPrice)
	assert.Equal(t, 1, res.Order.Attempt)
	assert.Equal(t, "FILLED", ledger.settled["k1"])
	// Rung 0 has no offset: limit is LTP on the tick grid.
	require.Len(t, api.submits, 1)
	assert.InDelta(t, 150.00, api.submits[0], 1e-9)
}

func TestExecuteDuplicateShortCircuits(t *testing.T) {
	api := newFakeAPI(150, attemptScript{fills: true, fillPrice: 150})
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	_, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	submitsBefore := len(api.submits)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, api.submits, submitsBefore, "duplicate must not touch the broker")
}

func TestExecuteBrokerRejectionIsTerminal(t *testing.T) {
	api := newFakeAPI(150, attemptScript{rejectReason: "RMS:margin shortfall"})
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, res.Order.Status)
	assert.Equal(t, "RMS:margin shortfall", res.Order.FailReason)
	assert.Len(t, api.submits, 1, "rejections are never retried")
	// No fill: the key is given back, not consumed.
	assert.Empty(t, ledger.settled)
	assert.Contains(t, ledger.released, "k1")
}

func TestExecuteClimbsLadderThenFills(t *testing.T) {
	api := newFakeAPI(150,
		attemptScript{},                             // rung 0 never fills
		attemptScript{fills: true, fillPrice: 150.4}, // rung 1 fills
	)
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 2, res.Order.Attempt)
	assert.Equal(t, 1, api.cancels, "unfilled rung is cancelled before the next")

	require.Len(t, api.submits, 2)
	// Rung 1 pays up 0.25% on a buy: 150 * 1.0025 = 150.375 -> 150.40 on grid.
	assert.InDelta(t, 150.40, api.submits[1], 1e-9)
}

func TestExecuteSellRungsPriceDown(t *testing.T) {
	api := newFakeAPI(150,
		attemptScript{},
		attemptScript{fills: true, fillPrice: 149.6},
	)
	e := newTestExecutor(api, newFakeLedger())

	intent := intentFor("k1")
	intent.Side = types.SideSell
	_, err := e.Execute(context.Background(), intent)
	require.NoError(t, err)
	// 150 * 0.9975 = 149.625 -> 149.65 on the 0.05 grid.
	assert.InDelta(t, 149.65, api.submits[1], 1e-9)
}

func TestExecuteExhaustionIsPermanentFailure(t *testing.T) {
	api := newFakeAPI(150, attemptScript{}) // never fills on any rung
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFailed, res.Order.Status)
	assert.Contains(t, ledger.released, "k1", "exhaustion releases the key")
	require.NotNil(t, res.FinalQuote, "permanent failure captures the final quote")
	assert.Equal(t, 150.0, res.FinalQuote.LTP)
}

func TestExecuteRetryAfterExhaustionReachesBroker(t *testing.T) {
	// An exhausted ladder must not poison the key: a later attempt with the
	// same key (an exit for a still-open position) has to reach the broker.
	api := newFakeAPI(150, attemptScript{}) // never fills
	ledger := newFakeLedger()
	e := newTestExecutor(api, ledger)

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFailed, res.Order.Status)
	submitsAfterFirst := len(api.submits)

	api.scripts = []attemptScript{{fills: true, fillPrice: 149.8}}
	res, err = e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate, "released key must not read as duplicate")
	assert.Equal(t, types.OrderStatusFilled, res.Order.Status)
	assert.Greater(t, len(api.submits), submitsAfterFirst)
	assert.Equal(t, "FILLED", ledger.settled["k1"])
}

func TestOnSubmitHookObservesSubmissions(t *testing.T) {
	api := newFakeAPI(150, attemptScript{fills: true, fillPrice: 150.05})
	e := newTestExecutor(api, newFakeLedger())
	var seen []types.Order
	e.OnSubmit(func(o types.Order, _ types.OrderIntent) { seen = append(seen, o) })

	_, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, types.OrderStatusSubmitted, seen[0].Status)
	assert.NotEmpty(t, seen[0].BrokerOrderID)
}

func TestExecuteRetryCapBoundsTheLadder(t *testing.T) {
	api := newFakeAPI(150, attemptScript{})
	e := newTestExecutor(api, newFakeLedger())
	e.cfg.RetryCapSec = 5 // cumulative backoffs 0,2,4,... exceed this at rung 2

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFailed, res.Order.Status)
	assert.Len(t, api.submits, 2)
}

func TestExecuteFullLadderFitsUnderDefaultCap(t *testing.T) {
	// Backoffs 0+2+4+8+16 sum to exactly the 30s cap: all five rungs run.
	api := newFakeAPI(150, attemptScript{})
	e := newTestExecutor(api, newFakeLedger())

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFailed, res.Order.Status)
	assert.Len(t, api.submits, 5)
}

func TestExecuteSubmitErrorMovesToNextRung(t *testing.T) {
	api := newFakeAPI(150,
		attemptScript{submitErr: errors.New("socket closed")},
		attemptScript{fills: true, fillPrice: 150.4},
	)
	e := newTestExecutor(api, newFakeLedger())

	res, err := e.Execute(context.Background(), intentFor("k1"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, res.Order.Status)
	assert.Equal(t, 2, res.Order.Attempt)
}

func TestLedgerSettledOnlyOnTerminal(t *testing.T) {
	ledger := newFakeLedger()
	err := ledger.Settle(context.Background(), "never-reserved", "FILLED")
	assert.Error(t, err)
}
