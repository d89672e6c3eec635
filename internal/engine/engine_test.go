package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/audit"
	"optexec/internal/barclock"
	"optexec/internal/breaker"
	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/executor"
	"optexec/internal/exitengine"
	"optexec/internal/pkg/idem"
	"optexec/internal/position"
	"optexec/internal/risk"
	"optexec/internal/session"
	"optexec/internal/store"
	"optexec/internal/strategy"
	"optexec/internal/types"
)

// scriptedOrder snapshots the fill mode at submission time, so flipping the
// API mid-test only affects later submissions.
type scriptedOrder struct {
	symbol   string
	willFill bool
	polls    int
	state    broker.OrderState
}

// scriptedAPI is a concurrency-safe broker fake for engine tests. Orders
// either fill after a couple of status polls or stay working forever, and
// the API tracks how many orders were in flight at once so tests can assert
// the drain stays sequential.
type scriptedAPI struct {
	mu        sync.Mutex
	quotes    map[string]types.QuoteSnapshot
	fill      bool
	submits   []string // symbol per submission, in order
	orders    map[string]*scriptedOrder
	active    int
	maxActive int
	seq       int
}

func newScriptedAPI() *scriptedAPI {
	return &scriptedAPI{
		quotes: make(map[string]types.QuoteSnapshot),
		orders: make(map[string]*scriptedOrder),
	}
}

func (a *scriptedAPI) setQuote(symbol string, ltp float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotes[symbol] = types.QuoteSnapshot{
		Symbol: symbol, LTP: ltp, Bid: ltp - 0.05, Ask: ltp + 0.05, At: time.Now(),
	}
}

func (a *scriptedAPI) setFill(fill bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fill = fill
}

func (a *scriptedAPI) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submits)
}

func (a *scriptedAPI) peakInFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxActive
}

func (a *scriptedAPI) Submit(_ context.Context, intent types.OrderIntent, _ float64) (broker.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	id := fmt.Sprintf("S-%d", a.seq)
	a.submits = append(a.submits, intent.Symbol)
	a.orders[id] = &scriptedOrder{
		symbol:   intent.Symbol,
		willFill: a.fill,
		polls:    2,
		state:    broker.OrderState{BrokerOrderID: id, Status: types.OrderStatusSubmitted},
	}
	a.active++
	if a.active > a.maxActive {
		a.maxActive = a.active
	}
	return broker.SubmitResult{BrokerOrderID: id, Accepted: true}, nil
}

func (a *scriptedAPI) Status(_ context.Context, brokerOrderID string) (broker.OrderState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[brokerOrderID]
	if !ok {
		return broker.OrderState{}, fmt.Errorf("unknown order %s", brokerOrderID)
	}
	if o.willFill && !o.state.Status.Terminal() {
		if o.polls <= 0 {
			q := a.quotes[o.symbol]
			o.state.Status = types.OrderStatusFilled
			o.state.FillPrice = q.Bid
			o.state.FilledQty = 1
			o.state.UpdatedAt = time.Now()
			a.active--
		} else {
			o.polls--
		}
	}
	return o.state, nil
}

func (a *scriptedAPI) Cancel(_ context.Context, brokerOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("unknown order %s", brokerOrderID)
	}
	if o.state.Status.Terminal() {
		return fmt.Errorf("order %s already %s", brokerOrderID, o.state.Status)
	}
	o.state.Status = types.OrderStatusCancelled
	a.active--
	return nil
}

func (a *scriptedAPI) Quote(_ context.Context, symbol string) (types.QuoteSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.quotes[symbol]
	if !ok {
		return types.QuoteSnapshot{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (a *scriptedAPI) Balance(context.Context) (float64, error) { return 500_000, nil }

func (a *scriptedAPI) MarginRequired(_ context.Context, _ string, qty int, price float64) (float64, error) {
	return price * float64(qty), nil
}

type fixture struct {
	eng       *Engine
	api       *scriptedAPI
	st        *store.Store
	positions *position.Manager
	brk       *breaker.Manager
	align     *strategy.AlignmentEvaluator
	cfg       *config.Config
}

func testEngineConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{LogLevel: "error"},
		Session: config.SessionConfig{
			EntryWindowStart: "09:30", EntryWindowEnd: "14:30",
			EODExitTime: "15:15", MarketCloseTime: "15:30",
		},
		Bars: config.BarsConfig{GraceSec: 120, DataGapThresholdSec: 120, RecoveryTimeoutSec: 300},
		Strategy: config.StrategyConfig{
			Underlying: "NIFTY", SpotSymbol: "NIFTY 50",
			DailyADXPeriod: 14, DailyADXThreshold: 25,
			HourlyADXPeriod: 14, HourlyADXThreshold: 20,
			RSIPeriod: 14, RSIOversold: 30, RSIOverbought: 70,
			EMAPeriod: 9, VolumeAvgPeriod: 20, VolumeEntryRatio: 1.2,
			SpreadCeilingPct: 0.01, StrikeIncrement: 50,
		},
		Risk: config.RiskConfig{
			StopLossPct: 0.20, TrailActivatePct: 0.02, TrailGapPct: 0.015,
			MaxPositions: 2, DailyLossLimitPct: 0.03, ConsecutiveLossLimit: 3,
			BasePositionSizePct: 0.02, MaxQuantity: 1800,
			PriceBandPct: 0.20, MarginUsageLimitPct: 0.80,
			VIX: config.VIX{
				EntryCeiling: 28, SpikeAbsolute: 30, SpikeDelta: 5, SpikeWindowMin: 10,
				ResumeThreshold: 28, ResumeWindowMin: 10,
				MultAt12OrBelow: 1.25, MultAt20: 1.0, MultAt30: 0.75, MultAt30OrAbove: 0.5,
			},
		},
		// A two-rung ladder with zero backoffs and a single fill poll keeps
		// the loop fast while still exercising retries and exhaustion.
		Orders: config.OrdersConfig{
			RetryStepsPct:    []float64{0, 0.25},
			RetryBackoffsSec: []int{0, 0},
			MaxAttempts:      2, RetryCapSec: 30,
			FillTimeoutSec: 1, FillPollIntervalMS: 10,
			FlattenDeadlineSec: 5,
		},
		Broker: config.BrokerConfig{
			Mode: "paper", TickSize: 0.05,
			LotSizeNifty: 50, FreezeQtyNifty: 1800, StartingBalance: 500_000,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testEngineConfig()

	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := session.NewClock(cfg.Session)
	require.NoError(t, err)

	api := newScriptedAPI()
	api.setFill(true)
	exec := executor.New(api, executor.NewLedger(st), cfg.Orders, cfg.Broker.TickSize)
	positions := position.NewManager()
	brk := breaker.NewManager(cfg.Risk.VIX, cfg.Risk.DailyLossLimitPct)
	align := strategy.NewAlignmentEvaluator(cfg.Strategy.DailyADXThreshold, cfg.Strategy.HourlyADXThreshold)

	eng := New(Deps{
		Cfg:       cfg,
		Session:   sess,
		Bars:      barclock.NewClock([]barclock.Timeframe{barclock.FiveMinute, barclock.OneHour, barclock.OneDay}, 2*time.Minute),
		BarStore:  barclock.NewStore(300),
		Store:     st,
		Align:     align,
		Signals:   strategy.NewGenerator(cfg.Strategy),
		Gate:      risk.NewGate(cfg.Risk, cfg.Broker),
		Sizer:     risk.NewSizer(cfg.Risk, cfg.Broker),
		Exec:      exec,
		Positions: positions,
		Exits:     exitengine.NewPrioritizer(0.5, 15*time.Minute),
		Breaker:   brk,
		API:       api,
		Resolver:  broker.NewPaperResolver(cfg.Broker),
		Audit:     audit.NewLog(st),
	})
	return &fixture{eng: eng, api: api, st: st, positions: positions, brk: brk, align: align, cfg: cfg}
}

// openPosition seeds the book directly, bypassing the entry pipeline.
// Must be called before the loop starts.
func (f *fixture) openPosition(symbol string, entry float64) string {
	intent := types.OrderIntent{
		IntentID: "intent-" + symbol,
		Side:     types.SideBuy,
		Symbol:   symbol,
		Strike:   23450,
		Quantity: 50,
		Reason:   types.ReasonBreakoutVolume,
	}
	order := types.Order{
		Quantity:  50,
		FillPrice: entry,
		FillTime:  time.Now(),
		Status:    types.OrderStatusFilled,
	}
	pos := f.positions.Open(intent, order, types.DirectionCE,
		types.Instrument{Symbol: symbol, Underlying: "NIFTY", Strike: 23450},
		23456, 18, position.StopParams{StopLossPct: 0.20, TrailActivatePct: 0.02, TrailGapPct: 0.015},
	)
	f.api.setQuote(symbol, entry)
	return pos.PositionID
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.eng.Start()
	t.Cleanup(f.eng.Stop)
}

func (f *fixture) emitSync(t *testing.T, typ EventType, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.eng.EmitSync(ctx, typ, payload))
}

func (f *fixture) auditTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.st.AuditTail(context.Background(), 200)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func drained(f *fixture) func() bool {
	return func() bool { return len(f.eng.Snapshot().Positions) == 0 }
}

func TestVIXSpikeDrainsPositionsSequentially(t *testing.T) {
	f := newFixture(t)
	f.openPosition("NIFTY28AUG23450CE", 150)
	f.openPosition("NIFTY28AUG23500CE", 95)
	f.start(t)

	at := time.Now()
	f.emitSync(t, EvtVIXSample, VIXSamplePayload{VIX: 31, At: at})

	assert.Eventually(t, drained(f), 5*time.Second, 10*time.Millisecond,
		"breaker must flatten both positions")
	assert.Equal(t, 2, f.api.submitCount(), "one exit order per position")
	assert.Equal(t, 1, f.api.peakInFlight(), "exits must drain one at a time")

	snap := f.eng.Snapshot()
	assert.True(t, snap.BreakerActive)
	assert.False(t, snap.AcceptingEntries)
	assert.Contains(t, f.auditTypes(t), audit.EventBreakerTripped)

	// Entries resume only after VIX holds below the resume threshold for
	// the full resume window.
	f.emitSync(t, EvtVIXSample, VIXSamplePayload{VIX: 25, At: at.Add(time.Minute)})
	assert.True(t, f.eng.Snapshot().BreakerActive, "one calm sample is not enough")
	f.emitSync(t, EvtVIXSample, VIXSamplePayload{VIX: 25, At: at.Add(12 * time.Minute)})
	assert.Eventually(t, func() bool {
		snap := f.eng.Snapshot()
		return !snap.BreakerActive && snap.AcceptingEntries
	}, 2*time.Second, 10*time.Millisecond)

	trades, err := f.st.TradesSince(context.Background(), at.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, types.ReasonVIXBreaker, tr.ExitReason)
	}
}

func TestFailedExitLadderDoesNotStrandPosition(t *testing.T) {
	f := newFixture(t)
	posID := f.openPosition("NIFTY28AUG23450CE", 150)
	f.api.setFill(false) // first ladder exhausts without a fill
	f.start(t)

	f.emitSync(t, EvtShutdown, struct{}{})

	// Wait for at least one full ladder to fail, then let fills through.
	assert.Eventually(t, func() bool { return f.api.submitCount() >= 2 },
		5*time.Second, 10*time.Millisecond, "first ladder should run both rungs")
	f.api.setFill(true)

	assert.Eventually(t, drained(f), 5*time.Second, 10*time.Millisecond,
		"a failed ladder must not leave the position stuck in CLOSING")

	trades, err := f.st.TradesSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, posID, trades[0].PositionID)
	assert.Equal(t, types.ReasonShutdown, trades[0].ExitReason)
}

func TestDuplicateExitReconcilesAgainstLedger(t *testing.T) {
	// A processed exit key with the position still on the books means a
	// previous run filled the exit but crashed before folding it in. The
	// duplicate result must settle the position instead of dropping it.
	f := newFixture(t)
	posID := f.openPosition("NIFTY28AUG23450CE", 150)

	ctx := context.Background()
	key := idem.ExitKey(posID)
	reserved, err := f.st.ReserveKey(ctx, key, time.Now())
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, f.st.MarkProcessed(ctx, key, "FILLED"))

	f.start(t)
	f.emitSync(t, EvtShutdown, struct{}{})

	assert.Eventually(t, drained(f), 5*time.Second, 10*time.Millisecond,
		"processed ledger entry must reconcile, not strand, the position")
	assert.Equal(t, 0, f.api.submitCount(), "the duplicate never reaches the broker")
	assert.Contains(t, f.auditTypes(t), audit.EventDuplicateIgnored)

	trades, err := f.st.TradesSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, posID, trades[0].PositionID)
}

func TestOptionTicksDriveTrailingStopExit(t *testing.T) {
	f := newFixture(t)
	symbol := "NIFTY28AUG23450CE"
	posID := f.openPosition(symbol, 150)
	f.start(t)

	mark := func(ltp float64) {
		f.api.setQuote(symbol, ltp)
		f.emitSync(t, EvtTick, TickPayload{Tick: types.Tick{
			Symbol: symbol, LTP: ltp, Bid: ltp - 0.05, Ask: ltp + 0.05, Timestamp: time.Now(),
		}})
	}

	mark(154) // +2.67%: trailing activates, stop 151.69
	pos := f.positions.Get(posID)
	require.NotNil(t, pos)
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 151.69, pos.TrailingStop, 0.01)

	mark(158) // ratchets to 155.63
	mark(155) // below the trailing stop: exit fires

	assert.Eventually(t, drained(f), 5*time.Second, 10*time.Millisecond)
	trades, err := f.st.TradesSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, types.ReasonTrailingStop, trades[0].ExitReason)
	assert.InDelta(t, 154.95, trades[0].ExitPrice, 1e-9, "exit fills at the bid")
}

func TestMarginBreachExitsThroughRiskTier(t *testing.T) {
	f := newFixture(t)
	// The default limit never trips with a 500k balance and one lot of
	// premium, so pin it low enough that the open position breaches it.
	f.cfg.Risk.MarginUsageLimitPct = 0.01
	posID := f.openPosition("NIFTY28AUG23450CE", 150)
	f.start(t)

	// A flat mark: no stop, trailing or target condition is live, so the
	// only exit driver is margin utilization.
	f.emitSync(t, EvtTick, TickPayload{Tick: types.Tick{
		Symbol: "NIFTY28AUG23450CE", LTP: 150, Bid: 149.95, Ask: 150.05, Timestamp: time.Now(),
	}})

	assert.Eventually(t, drained(f), 5*time.Second, 10*time.Millisecond,
		"margin utilization over the limit must flatten the position")
	trades, err := f.st.TradesSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, posID, trades[0].PositionID)
	assert.Equal(t, types.ReasonMarginBreach, trades[0].ExitReason)
}

func TestNewTradingDayResetsDailyLatches(t *testing.T) {
	f := newFixture(t)
	ist := time.FixedZone("IST", 5*3600+30*60)
	day1 := time.Date(2026, 8, 27, 10, 0, 0, 0, ist)

	// Latch the daily-loss breaker and set a direction for the day before
	// the loop starts; the breaker is loop-owned once it runs.
	require.True(t, f.brk.OnDailyLoss(-0.05, day1))
	require.True(t, f.brk.Active())
	_, moved := f.align.SetDailyDirection(types.IndicatorSnapshot{
		ADX: 32, PlusDI: 28, MinusDI: 14,
	}, day1)
	require.True(t, moved)
	f.start(t)

	f.emitSync(t, EvtTick, TickPayload{Tick: types.Tick{
		Symbol: f.cfg.Strategy.SpotSymbol, LTP: 23456, Timestamp: day1,
	}})
	require.True(t, f.brk.Active(), "the latch holds within its own session")

	// The first tick of the next session rolls the day over.
	f.emitSync(t, EvtTick, TickPayload{Tick: types.Tick{
		Symbol: f.cfg.Strategy.SpotSymbol, LTP: 23470, Timestamp: day1.Add(24 * time.Hour),
	}})

	assert.False(t, f.brk.Active(), "the daily-loss latch must not survive into the next session")
	state, direction := f.align.State()
	assert.Equal(t, strategy.NoDirection, state)
	assert.Equal(t, types.DirectionNoTrade, direction)

	starts := 0
	for _, typ := range f.auditTypes(t) {
		if typ == audit.EventSessionStart {
			starts++
		}
	}
	assert.Equal(t, 2, starts, "each trading day opens its own session")
}

func TestDuplicateEntryResultIsAuditedNotApplied(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.emitSync(t, EvtOrderResult, OrderResultPayload{
		Kind: ResultEntry,
		Intent: types.OrderIntent{
			IntentID:       "intent-dup",
			IdempotencyKey: "dup-key",
			Symbol:         "NIFTY28AUG23450CE",
		},
		Result: executor.Result{Duplicate: true},
	})

	assert.Empty(t, f.eng.Snapshot().Positions, "a duplicate entry opens nothing")
	assert.Contains(t, f.auditTypes(t), audit.EventDuplicateIgnored)
}

func TestStaleQuarantinePromotesToFlatten(t *testing.T) {
	f := newFixture(t)
	f.cfg.Bars.RecoveryTimeoutSec = 1
	f.openPosition("NIFTY28AUG23450CE", 150)
	f.start(t)

	// One spot tick establishes the freshness baseline, then the sweep
	// sees silence past the gap threshold and, later, past the recovery
	// timeout.
	old := time.Now().Add(-time.Duration(f.cfg.Bars.DataGapThresholdSec+60) * time.Second)
	f.emitSync(t, EvtTick, TickPayload{Tick: types.Tick{
		Symbol: f.cfg.Strategy.SpotSymbol, LTP: 23456, Timestamp: old,
	}})

	f.emitSync(t, EvtBarSweep, struct{}{}) // quarantine
	assert.True(t, f.eng.Snapshot().Quarantined)
	time.Sleep(1200 * time.Millisecond)    // outlive the recovery timeout
	f.emitSync(t, EvtBarSweep, struct{}{}) // still silent: promote to critical

	assert.Eventually(t, func() bool {
		snap := f.eng.Snapshot()
		return snap.DataStale && len(snap.Positions) == 0
	}, 5*time.Second, 10*time.Millisecond, "stale data must flatten the book")
	assert.False(t, f.eng.Snapshot().AcceptingEntries)
	assert.Contains(t, f.auditTypes(t), audit.EventDataStale)

	trades, err := f.st.TradesSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, types.ReasonDataStale, trades[0].ExitReason)
}
