package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"optexec/internal/audit"
	"optexec/internal/barclock"
	"optexec/internal/exitengine"
	"optexec/internal/logger"
	"optexec/internal/pkg/idem"
	"optexec/internal/pkg/trading"
	"optexec/internal/strategy"
	"optexec/internal/types"
)

// evaluateExits runs one exit prioritization cycle and, when a decision
// fires, moves the position to CLOSING and launches its exit order. One
// position exits at a time; the next cycle runs when this one's result
// lands, so a breaker flatten drains positions sequentially.
func (e *Engine) evaluateExits(ctx context.Context, now time.Time) {
	if len(e.inFlightExits) > 0 {
		return
	}
	in := exitengine.Input{
		Now: now,
		Mandatory: exitengine.Mandatory{
			EODReached:    e.eodReached,
			TokenInvalid:  e.tokenInvalid,
			BreakerActive: e.deps.Breaker.Active(),
			ShuttingDown:  e.shuttingDown,
			DataStale:     e.dataCritical,
		},
		DailyLossHit: e.deps.Positions.DailyPnLPct() <= -e.deps.Cfg.Risk.DailyLossLimitPct,
		Positions:    e.positionViews(ctx),
	}
	decision, ok := e.deps.Exits.Evaluate(in)
	if !ok {
		return
	}
	if err := e.deps.Positions.BeginClose(decision.PositionID); err != nil {
		logger.Warnf("begin close %s: %v", decision.PositionID[:8], err)
		return
	}
	pos := e.deps.Positions.Get(decision.PositionID)
	if pos == nil {
		return
	}
	intent := types.OrderIntent{
		IntentID:       uuid.NewString(),
		IdempotencyKey: idem.ExitKey(pos.PositionID),
		Side:           types.SideSell,
		Symbol:         pos.Symbol,
		Strike:         pos.Strike,
		Quantity:       pos.Quantity,
		PriceHint:      pos.CurrentPrice,
		Reason:         decision.Reason,
		PositionID:     pos.PositionID,
		CreatedAt:      now,
	}
	e.inFlightExits[pos.PositionID] = true
	go e.executeExit(intent, decision)
}

func (e *Engine) positionViews(ctx context.Context) []exitengine.PositionView {
	alignState, _ := e.deps.Align.State()
	hourly := e.deps.Align.Hourly()
	tf := string(barclock.FiveMinute)
	positions := e.deps.Positions.List()

	// Same committed-premium math as the entry headroom filter; here the
	// breach side drives a tier-2 exit instead of blocking entries.
	marginBreach := false
	if bal, err := e.deps.API.Balance(ctx); err == nil {
		var committed float64
		for _, pos := range positions {
			committed += pos.EntryPrice * float64(pos.Quantity)
		}
		marginBreach = committed >= e.deps.Cfg.Risk.MarginUsageLimitPct*(bal+committed)
	}

	views := make([]exitengine.PositionView, 0, len(positions))
	for _, pos := range positions {
		view := exitengine.PositionView{
			Position:      pos,
			AlignmentLost: alignState == strategy.DirectionSetUnaligned,
			MarginBreach:  marginBreach,
		}
		// Volume dry-up reads the freshest signal-timeframe bar of the spot.
		if bars := e.deps.BarStore.Window(e.deps.Cfg.Strategy.SpotSymbol, tf, 1); len(bars) == 1 {
			view.BarVolume = bars[0].Volume
			view.AvgVolume = hourly.AvgVolume
			view.BarTime = bars[0].OpenTime
		}
		views = append(views, view)
	}
	return views
}

// executeExit runs off-loop and reports through EvtOrderResult.
func (e *Engine) executeExit(intent types.OrderIntent, decision exitengine.Decision) {
	ctx := context.Background()
	res, err := e.deps.Exec.Execute(ctx, intent)
	payload := OrderResultPayload{
		Kind:       ResultExit,
		Intent:     intent,
		ExitReason: decision.Reason,
		Secondary:  decision.Secondary,
		Result:     res,
	}
	if err != nil {
		payload.Err = err.Error()
	}
	if emitErr := e.Emit(EvtOrderResult, payload); emitErr != nil {
		logger.Errorf("emit exit result: %v", emitErr)
	}
}

func (e *Engine) onExitResult(p OrderResultPayload) {
	ctx := context.Background()
	positionID := p.Intent.PositionID
	delete(e.inFlightExits, positionID)

	if p.Err != "" {
		logger.Errorf("exit execution error for %s: %s", positionID[:8], p.Err)
		e.deps.Positions.Reopen(positionID)
		e.retryMandatoryFlatten(ctx)
		return
	}
	if p.Result.Duplicate {
		e.deps.Audit.Record(ctx, audit.EventDuplicateIgnored, p.Intent.Symbol, map[string]any{
			"position_id": positionID,
			"reason":      types.ReasonDuplicateIgnored,
		})
		// Failed ladders release their key, so a duplicate here means
		// another run of this process already filled this exit. If the
		// position is still on the books, the fill was never folded in:
		// settle it at the last mark rather than stranding it in CLOSING.
		if pos := e.deps.Positions.Get(positionID); pos != nil {
			processed, err := e.deps.Store.KeyProcessed(ctx, p.Intent.IdempotencyKey)
			if err == nil && processed {
				logger.Warnf("exit for %s already processed in the ledger, reconciling close", positionID[:8])
				e.settleClose(ctx, positionID, pos.CurrentPrice, time.Now(), p.ExitReason, p.Secondary)
			} else {
				e.deps.Positions.Reopen(positionID)
			}
		}
		return
	}
	order := p.Result.Order
	e.deps.Audit.Record(ctx, audit.EventOrderTerminal, order.Symbol, p.Result)

	if order.Status != types.OrderStatusFilled {
		logger.Errorf("exit for %s ended %s: %s; position stays open",
			positionID[:8], order.Status, order.FailReason)
		e.deps.Positions.Reopen(positionID)
		e.retryMandatoryFlatten(ctx)
		return
	}

	e.settleClose(ctx, positionID, order.FillPrice, order.FillTime, p.ExitReason, p.Secondary)
}

// settleClose archives the position, updates daily PnL state and kicks the
// next exit cycle so a flatten drains positions one after another.
func (e *Engine) settleClose(ctx context.Context, positionID string, price float64, at time.Time, reason string, secondary []string) {
	trade, err := e.deps.Positions.Close(
		positionID, price, at, reason, secondary, e.deps.Breaker.LastVIX(),
	)
	if err != nil {
		logger.Errorf("close %s: %v", positionID[:8], err)
		return
	}
	e.deps.Exits.Forget(positionID)
	if err := e.deps.Store.SaveTrade(ctx, trade); err != nil {
		logger.Errorf("trade archive: %v", err)
	}
	e.deps.Audit.Record(ctx, audit.EventPositionClosed, trade.Symbol, trade)

	// Realized losses can trip the daily-loss breaker.
	if e.deps.Breaker.OnDailyLoss(e.deps.Positions.DailyPnLPct(), time.Now()) {
		e.deps.Audit.Record(ctx, audit.EventBreakerTripped, trade.Underlying, map[string]any{
			"trip":          e.deps.Breaker.TrippedBy(),
			"daily_pnl_pct": e.deps.Positions.DailyPnLPct(),
		})
	}
	// Drain remaining positions if a mandatory condition is still active.
	e.evaluateExits(ctx, time.Now())
}

// retryMandatoryFlatten re-runs exit evaluation after a failed exit while a
// flatten-everything condition holds. Without this a single exhausted ladder
// would stall the whole drain, since nothing else re-triggers evaluation
// once the pumps stop. Pacing comes from the ladder's own backoffs.
func (e *Engine) retryMandatoryFlatten(ctx context.Context) {
	if e.shuttingDown || e.eodReached || e.tokenInvalid || e.dataCritical || e.deps.Breaker.Active() {
		e.evaluateExits(ctx, time.Now())
	}
}

const (
	forceExitDiscountPct = 0.05
	forceExitWait        = 2 * time.Second
	forceExitPoll        = 100 * time.Millisecond
)

// FlattenForceHandler runs when the graceful flatten deadline lapses with
// positions still open. It abandons the ladder and sells each remaining
// position at a deeply marketable limit, confirming fills with a short poll.
// Positions with a ladder exit still working are left to that ladder.
type FlattenForceHandler struct{}

func (h *FlattenForceHandler) Type() EventType { return EvtFlattenForce }

func (h *FlattenForceHandler) Handle(hc *HandlerContext, _ []byte, _ string) error {
	e := hc.Engine()
	e.shuttingDown = true
	ctx := context.Background()
	for _, pos := range e.deps.Positions.List() {
		if e.inFlightExits[pos.PositionID] {
			logger.Warnf("force flatten: ladder exit still working for %s, not doubling up", pos.PositionID[:8])
			continue
		}
		if pos.Status == types.PositionOpen {
			if err := e.deps.Positions.BeginClose(pos.PositionID); err != nil {
				logger.Errorf("force flatten: begin close %s: %v", pos.PositionID[:8], err)
				continue
			}
		}
		e.forceExit(ctx, pos)
	}
	return nil
}

// forceExit submits one marketable sell outside the ladder and folds the
// fill in synchronously. Blocking the loop is acceptable here: the process
// is past its shutdown deadline and nothing else should run.
func (e *Engine) forceExit(ctx context.Context, pos types.Position) {
	price := pos.CurrentPrice
	if q, err := e.deps.API.Quote(ctx, pos.Symbol); err == nil {
		switch {
		case q.Bid > 0:
			price = q.Bid
		case q.LTP > 0:
			price = q.LTP
		}
	}
	if price <= 0 {
		logger.Errorf("force exit for %s: no usable price", pos.PositionID[:8])
		return
	}
	limit := trading.RoundToTick(price*(1-forceExitDiscountPct), e.deps.Cfg.Broker.TickSize)
	intent := types.OrderIntent{
		IntentID:   uuid.NewString(),
		Side:       types.SideSell,
		Symbol:     pos.Symbol,
		Strike:     pos.Strike,
		Quantity:   pos.Quantity,
		PriceHint:  price,
		Reason:     types.ReasonShutdown,
		PositionID: pos.PositionID,
		CreatedAt:  time.Now(),
	}
	sub, err := e.deps.API.Submit(ctx, intent, limit)
	if err != nil {
		logger.Errorf("force exit submit for %s failed: %v", pos.PositionID[:8], err)
		return
	}
	if !sub.Accepted {
		logger.Errorf("force exit for %s rejected: %s", pos.PositionID[:8], sub.RejectReason)
		return
	}
	deadline := time.Now().Add(forceExitWait)
	for time.Now().Before(deadline) {
		st, serr := e.deps.API.Status(ctx, sub.BrokerOrderID)
		if serr == nil && st.Status == types.OrderStatusFilled {
			trade, cerr := e.deps.Positions.Close(
				pos.PositionID, st.FillPrice, st.UpdatedAt,
				types.ReasonShutdown, nil, e.deps.Breaker.LastVIX(),
			)
			if cerr != nil {
				logger.Errorf("force exit close %s: %v", pos.PositionID[:8], cerr)
				return
			}
			e.deps.Exits.Forget(pos.PositionID)
			if serr := e.deps.Store.SaveTrade(ctx, trade); serr != nil {
				logger.Errorf("trade archive: %v", serr)
			}
			e.deps.Audit.Record(ctx, audit.EventPositionClosed, trade.Symbol, trade)
			return
		}
		time.Sleep(forceExitPoll)
	}
	logger.Errorf("force exit for %s not confirmed before stop; manual reconciliation needed", pos.PositionID[:8])
}
