// Package engine is the single-goroutine actor at the core of the process.
// Every tick, bar, VIX sample and execution result arrives as an event on
// one channel and is handled sequentially, so no trading state ever needs a
// lock. Blocking work (order execution) runs on worker goroutines that
// report back through the same channel.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"optexec/internal/audit"
	"optexec/internal/barclock"
	"optexec/internal/breaker"
	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/executor"
	"optexec/internal/exitengine"
	"optexec/internal/logger"
	"optexec/internal/pkg/idem"
	"optexec/internal/position"
	"optexec/internal/risk"
	"optexec/internal/session"
	"optexec/internal/store"
	"optexec/internal/strategy"
)

// Deps wires the engine's collaborators. All are required unless noted.
type Deps struct {
	Cfg       *config.Config
	Session   *session.Clock
	Bars      *barclock.Clock
	BarStore  *barclock.Store
	Store     *store.Store
	Align     *strategy.AlignmentEvaluator
	Signals   *strategy.Generator
	Gate      *risk.Gate
	Sizer     *risk.Sizer
	Exec      *executor.Executor
	Positions *position.Manager
	Exits     *exitengine.Prioritizer
	Breaker   *breaker.Manager
	API       broker.OrderAPI
	Resolver  broker.InstrumentResolver
	Audit     *audit.Log

	// Paper receives ticks to drive simulated fills. Nil in live mode.
	Paper *broker.Paper
}

// Engine is the event-driven actor. All fields below deps are owned by the
// loop goroutine and must not be touched from outside it.
type Engine struct {
	deps Deps

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	registry *HandlerRegistry

	// Loop-owned state.
	tunables       config.TunableRisk
	idemCounter    idem.Counter
	pendingEntry   bool
	inFlightExits  map[string]bool // positionID
	quarantined    bool
	quarantineAt   time.Time
	dataCritical   bool
	lastSpotTick   time.Time
	spotPrice      float64
	spotSpread     float64
	eodReached     bool
	tokenInvalid   bool
	shuttingDown   bool
	dayStarted     bool
	tradingDay     string

	stateSnapshot    atomic.Value // *State
	snapshotThrottle time.Duration
	lastSnapshot     time.Time
}

func New(deps Deps) *Engine {
	reg := NewHandlerRegistry()
	reg.RegisterDefaultHandlers()
	e := &Engine{
		deps:     deps,
		msgCh:    make(chan EventEnvelope, 256),
		stopCh:   make(chan struct{}),
		registry: reg,
		tunables: config.TunableRisk{
			TrailActivatePct: deps.Cfg.Risk.TrailActivatePct,
			TrailGapPct:      deps.Cfg.Risk.TrailGapPct,
			TargetPct:        deps.Cfg.Risk.TargetPct,
		},
		inFlightExits:    make(map[string]bool),
		snapshotThrottle: 50 * time.Millisecond,
	}
	e.refreshSnapshot(true)
	return e
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runLoop()
}

// Stop drains the loop and returns once the last event is handled. Callers
// should send EvtShutdown and wait for the flatten to finish first.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Send enqueues an event without waiting for it to be handled.
func (e *Engine) Send(evt EventEnvelope) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("engine is stopped")
	}
}

// SendSync enqueues an event and waits for its handler to finish.
func (e *Engine) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := e.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return fmt.Errorf("engine stopped during sync call")
	}
}

// Emit marshals payload and enqueues it under the given type.
func (e *Engine) Emit(t EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t, err)
	}
	return e.Send(EventEnvelope{Type: t, Payload: raw})
}

// EmitSync is Emit followed by a wait for the handler.
func (e *Engine) EmitSync(ctx context.Context, t EventType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t, err)
	}
	return e.SendSync(ctx, EventEnvelope{Type: t, Payload: raw})
}

// Snapshot returns the latest published state. Safe from any goroutine.
func (e *Engine) Snapshot() *State {
	val := e.stateSnapshot.Load()
	if val == nil {
		return &State{}
	}
	return val.(*State)
}

func (e *Engine) refreshSnapshot(force bool) {
	if !force && e.snapshotThrottle > 0 && !e.lastSnapshot.IsZero() {
		if time.Since(e.lastSnapshot) < e.snapshotThrottle {
			return
		}
	}
	alignState, direction := e.deps.Align.State()
	st := &State{
		SessionID:         e.deps.Session.SessionID(),
		Alignment:         alignState,
		Direction:         direction,
		VIX:               e.deps.Breaker.LastVIX(),
		BreakerActive:     e.deps.Breaker.Active(),
		BreakerReason:     e.deps.Breaker.TrippedBy(),
		AcceptingEntries:  e.acceptingEntries(),
		DailyPnL:          e.deps.Positions.DailyPnL(),
		DailyPnLPct:       e.deps.Positions.DailyPnLPct(),
		ConsecutiveLosses: e.deps.Positions.ConsecutiveLosses(),
		Quarantined:       e.quarantined,
		DataStale:         e.dataCritical,
		EODReached:        e.eodReached,
		TokenInvalid:      e.tokenInvalid,
		Positions:         e.deps.Positions.List(),
		UpdatedAt:         time.Now(),
	}
	e.stateSnapshot.Store(st)
	e.lastSnapshot = time.Now()
}

func (e *Engine) acceptingEntries() bool {
	return !e.deps.Breaker.Active() &&
		!e.quarantined &&
		!e.dataCritical &&
		!e.eodReached &&
		!e.tokenInvalid &&
		!e.shuttingDown
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	logger.Infof("engine actor started")
	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-e.stopCh:
			logger.Infof("engine actor stopping")
			return
		}
	}
}

// handleEvent dispatches one envelope. Panics are contained so one bad
// handler cannot take the whole loop down; slow handlers are flagged.
func (e *Engine) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine panic handling %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("slow event %s took %v", evt.Type, dur)
		}
		// The throttle only coalesces the tick firehose. Everything else is
		// rare and latch-changing, so its refresh must never be swallowed:
		// the final exit result of a drain has to reach Drained() right
		// away, and a breaker or quarantine flip may be the last event of
		// the session.
		e.refreshSnapshot(evt.Type != EvtTick)
	}()

	handler, ok := e.registry.Get(evt.Type)
	if !ok {
		logger.Warnf("no handler registered for event type %s", evt.Type)
		return
	}
	ctx := NewHandlerContext(e)
	if err = handler.Handle(ctx, evt.Payload, evt.ID); err != nil {
		logger.Errorf("engine failed to handle %s: %v", evt.Type, err)
	}
}

// stopParams translates the current tunables into position stop knobs.
func (e *Engine) stopParams() position.StopParams {
	return position.StopParams{
		StopLossPct:      e.deps.Cfg.Risk.StopLossPct,
		TrailActivatePct: e.tunables.TrailActivatePct,
		TrailGapPct:      e.tunables.TrailGapPct,
		TargetPct:        e.tunables.TargetPct,
	}
}

// ensureDayStarted snapshots the opening balance the first time market data
// arrives on a trading day, keyed by the tick's own trading day so replayed
// multi-day captures roll over correctly. A rollover clears everything that
// is scoped to one session: daily counters, the daily-loss latch, the
// alignment state machine and the EOD/stale-data latches.
func (e *Engine) ensureDayStarted(ctx context.Context, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	day := e.deps.Session.DayID(at)
	if e.dayStarted && day == e.tradingDay {
		return
	}
	bal, err := e.deps.API.Balance(ctx)
	if err != nil {
		logger.Warnf("opening balance fetch failed: %v", err)
		return
	}
	if e.dayStarted {
		logger.Infof("trading day rolled over %s -> %s", e.tradingDay, day)
		e.deps.Breaker.ResetDay()
		e.deps.Align.ResetDay()
		e.eodReached = false
		e.dataCritical = false
	}
	e.deps.Positions.StartDay(bal)
	e.dayStarted = true
	e.tradingDay = day
	e.deps.Audit.Record(ctx, audit.EventSessionStart, e.deps.Cfg.Strategy.Underlying, map[string]any{
		"session_id": e.deps.Session.SessionID(),
		"day":        day,
		"balance":    bal,
	})
}
