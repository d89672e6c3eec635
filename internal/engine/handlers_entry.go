package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optexec/internal/audit"
	"optexec/internal/logger"
	"optexec/internal/pkg/idem"
	"optexec/internal/risk"
	"optexec/internal/session"
	"optexec/internal/strategy"
	"optexec/internal/types"
)

// onSignalBar runs the entry pipeline for one completed signal-timeframe
// bar: filters, triggers, instrument resolution, sizing, the risk gate and
// finally async execution. At most one entry works at a time.
func (e *Engine) onSignalBar(ctx context.Context, bar types.Bar) {
	if e.pendingEntry || !e.acceptingEntries() {
		return
	}
	alignState, direction := e.deps.Align.State()
	if alignState != strategy.DirectionSetAligned {
		return
	}
	snap, ok := e.computeIndicators(bar, e.deps.Cfg.Strategy.HourlyADXPeriod)
	if !ok {
		return
	}
	window := e.deps.BarStore.Window(bar.Symbol, bar.Timeframe, e.deps.Cfg.Strategy.VolumeAvgPeriod)

	in := e.filterInput(ctx, bar, snap)
	sig, fired := e.deps.Signals.Evaluate(direction, window, snap, in)
	if !fired {
		return
	}
	e.deps.Audit.Record(ctx, audit.EventSignal, bar.Symbol, sig)

	intent, inst, err := e.buildEntryIntent(ctx, sig, direction)
	if err != nil {
		var rej *risk.RejectError
		if errors.As(err, &rej) {
			logger.Warnf("entry rejected: %s (%s)", rej.Reason, rej.Detail)
			e.deps.Audit.Record(ctx, audit.EventSignalRejected, bar.Symbol, map[string]any{
				"reason": rej.Reason,
				"detail": rej.Detail,
				"signal": sig,
			})
			return
		}
		logger.Errorf("entry intent build failed: %v", err)
		return
	}

	e.pendingEntry = true
	go e.executeEntry(intent, inst, direction)
}

func (e *Engine) filterInput(ctx context.Context, bar types.Bar, snap types.IndicatorSnapshot) strategy.FilterInput {
	at := time.Now()
	marginHeadroom := true
	if bal, err := e.deps.API.Balance(ctx); err == nil && e.dayStarted {
		// Headroom check: committed margin must stay under the usage limit.
		var committed float64
		for _, p := range e.deps.Positions.List() {
			committed += p.EntryPrice * float64(p.Quantity)
		}
		limit := e.deps.Cfg.Risk.MarginUsageLimitPct * (bal + committed)
		marginHeadroom = committed < limit
	}
	return strategy.FilterInput{
		Now:               at,
		InEntryWindow:     e.deps.Session.InEntryWindow(at),
		SessionOpen:       e.deps.Session.StateAt(at) == session.Open,
		OpenPositions:     e.deps.Positions.OpenCount(),
		MaxPositions:      e.deps.Cfg.Risk.MaxPositions,
		VIX:               e.deps.Breaker.LastVIX(),
		VIXCeiling:        e.deps.Cfg.Risk.VIX.EntryCeiling,
		DailyLossBreached: e.deps.Positions.DailyPnLPct() <= -e.deps.Cfg.Risk.DailyLossLimitPct,
		BarVolume:         bar.Volume,
		AvgVolume:         snap.AvgVolume,
		VolumeRatio:       e.deps.Cfg.Strategy.VolumeEntryRatio,
		Spread:            e.spotSpread,
		SpreadCeiling:     e.deps.Cfg.Strategy.SpreadCeilingPct,
		MarginHeadroom:    marginHeadroom,
		ConsecutiveLosses: e.deps.Positions.ConsecutiveLosses(),
		ConsecLossLimit:   e.deps.Cfg.Risk.ConsecutiveLossLimit,
	}
}

// buildEntryIntent resolves the contract, sizes the order and runs the risk
// gate. A *risk.RejectError return means a clean local rejection.
func (e *Engine) buildEntryIntent(ctx context.Context, sig strategy.Signal, direction types.Direction) (types.OrderIntent, types.Instrument, error) {
	now := time.Now()
	inst, err := e.deps.Resolver.Resolve(ctx, e.deps.Cfg.Strategy.Underlying, sig.Strike, direction, now)
	if err != nil {
		return types.OrderIntent{}, types.Instrument{}, &risk.RejectError{
			Reason: types.RejectTokenLookup,
			Detail: err.Error(),
		}
	}
	quote, err := e.deps.API.Quote(ctx, inst.Symbol)
	if err != nil {
		return types.OrderIntent{}, types.Instrument{}, fmt.Errorf("quote %s: %w", inst.Symbol, err)
	}
	if quote.LTP <= 0 {
		return types.OrderIntent{}, types.Instrument{}, fmt.Errorf("no valid quote for %s", inst.Symbol)
	}
	spread := 0.0
	if quote.Bid > 0 && quote.Ask > 0 {
		spread = (quote.Ask - quote.Bid) / quote.LTP
	}
	if spread > e.deps.Cfg.Strategy.SpreadCeilingPct {
		// The filter set screens the spot spread; the option's own spread
		// is only knowable here, once the contract has a quote.
		return types.OrderIntent{}, types.Instrument{}, &risk.RejectError{
			Reason: types.RejectSpread,
			Detail: fmt.Sprintf("spread %.4f above ceiling %.4f", spread, e.deps.Cfg.Strategy.SpreadCeilingPct),
		}
	}

	balance, err := e.deps.API.Balance(ctx)
	if err != nil {
		return types.OrderIntent{}, types.Instrument{}, fmt.Errorf("balance: %w", err)
	}
	dte := e.deps.Resolver.DaysToExpiry(inst, now)
	qty := e.deps.Sizer.Quantity(balance, quote.LTP, e.deps.Breaker.LastVIX(), dte, inst.Underlying)
	if qty <= 0 {
		return types.OrderIntent{}, types.Instrument{}, &risk.RejectError{
			Reason: types.RejectLotSize,
			Detail: "sized quantity is zero",
		}
	}

	margin, err := e.deps.API.MarginRequired(ctx, inst.Symbol, qty, quote.LTP)
	if err != nil {
		margin = quote.LTP * float64(qty)
	}
	if err := e.deps.Gate.Validate(risk.CheckInput{
		Now:            now,
		InEntryWindow:  e.deps.Session.InEntryWindow(now),
		OpenPositions:  e.deps.Positions.OpenCount(),
		Quantity:       qty,
		Price:          quote.LTP,
		LTP:            quote.LTP,
		Instrument:     inst,
		AccountBalance: balance,
		MarginRequired: margin,
		DailyLossPct:   e.deps.Positions.DailyPnLPct(),
		BreakerActive:  e.deps.Breaker.Active(),
	}); err != nil {
		return types.OrderIntent{}, types.Instrument{}, err
	}

	key := idem.EntryKey(
		e.deps.Session.SessionID(),
		string(types.SideBuy),
		qty,
		sig.Strike,
		sig.At.UnixMilli(),
		sig.Reason,
		e.idemCounter.Next(),
	)
	return types.OrderIntent{
		IntentID:       uuid.NewString(),
		IdempotencyKey: key,
		Side:           types.SideBuy,
		Symbol:         inst.Symbol,
		Strike:         sig.Strike,
		Quantity:       qty,
		PriceHint:      quote.LTP,
		Reason:         sig.Reason,
		CreatedAt:      now,
	}, inst, nil
}

// executeEntry runs off-loop and reports back through EvtOrderResult.
func (e *Engine) executeEntry(intent types.OrderIntent, inst types.Instrument, direction types.Direction) {
	ctx := context.Background()
	res, err := e.deps.Exec.Execute(ctx, intent)
	payload := OrderResultPayload{
		Kind:       ResultEntry,
		Intent:     intent,
		Direction:  direction,
		Instrument: inst,
		Result:     res,
	}
	if err != nil {
		payload.Err = err.Error()
	}
	if emitErr := e.Emit(EvtOrderResult, payload); emitErr != nil {
		logger.Errorf("emit entry result: %v", emitErr)
	}
}

// OrderResultHandler folds an execution outcome back into engine state.
type OrderResultHandler struct{}

func (h *OrderResultHandler) Type() EventType { return EvtOrderResult }

func (h *OrderResultHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p OrderResultPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("order result payload: %w", err)
	}
	e := hc.Engine()
	switch p.Kind {
	case ResultEntry:
		e.onEntryResult(p)
	case ResultExit:
		e.onExitResult(p)
	default:
		return fmt.Errorf("unknown order result kind %q", p.Kind)
	}
	return nil
}

func (e *Engine) onEntryResult(p OrderResultPayload) {
	e.pendingEntry = false
	ctx := context.Background()

	if p.Err != "" {
		logger.Errorf("entry execution error for %s: %s", p.Intent.IntentID, p.Err)
		return
	}
	if p.Result.Duplicate {
		e.deps.Audit.Record(ctx, audit.EventDuplicateIgnored, p.Intent.Symbol, map[string]any{
			"intent_id": p.Intent.IntentID,
			"key":       p.Intent.IdempotencyKey,
			"reason":    types.ReasonDuplicateIgnored,
		})
		return
	}
	order := p.Result.Order
	e.deps.Audit.Record(ctx, audit.EventOrderTerminal, order.Symbol, p.Result)

	if order.Status != types.OrderStatusFilled {
		logger.Warnf("entry %s ended %s: %s", p.Intent.IntentID, order.Status, order.FailReason)
		return
	}
	pos := e.deps.Positions.Open(
		p.Intent, order, p.Direction, p.Instrument,
		e.spotPrice, e.deps.Breaker.LastVIX(), e.stopParams(),
	)
	e.deps.Audit.Record(ctx, audit.EventPositionOpened, pos.Symbol, pos)
}
