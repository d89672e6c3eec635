package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"optexec/internal/audit"
	"optexec/internal/logger"
)

// VIXSampleHandler feeds the circuit breaker and reacts to state flips.
type VIXSampleHandler struct{}

func (h *VIXSampleHandler) Type() EventType { return EvtVIXSample }

func (h *VIXSampleHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p VIXSamplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("vix payload: %w", err)
	}
	if p.VIX <= 0 {
		return nil
	}
	e := hc.Engine()
	ctx := context.Background()
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	flipped := e.deps.Breaker.OnVIX(p.VIX, at)
	if !flipped {
		return nil
	}
	if e.deps.Breaker.Active() {
		e.deps.Audit.Record(ctx, audit.EventBreakerTripped, e.deps.Cfg.Strategy.Underlying, map[string]any{
			"trip": e.deps.Breaker.TrippedBy(),
			"vix":  p.VIX,
		})
		// Breaker flattening drains one position per completed exit.
		e.evaluateExits(ctx, at)
	} else {
		e.deps.Audit.Record(ctx, audit.EventBreakerResumed, e.deps.Cfg.Strategy.Underlying, map[string]any{
			"vix": p.VIX,
		})
	}
	return nil
}

// EODCheckHandler latches the end-of-day state and starts the mandatory
// flatten once the cutoff passes.
type EODCheckHandler struct{}

func (h *EODCheckHandler) Type() EventType { return EvtEODCheck }

func (h *EODCheckHandler) Handle(hc *HandlerContext, _ []byte, _ string) error {
	e := hc.Engine()
	now := time.Now()
	if e.eodReached || !e.deps.Session.PastEODCutoff(now) {
		return nil
	}
	e.eodReached = true
	logger.Infof("EOD cutoff reached, flattening all positions")
	ctx := context.Background()
	e.deps.Audit.Record(ctx, audit.EventSessionEnd, e.deps.Cfg.Strategy.Underlying, map[string]any{
		"session_id":    e.deps.Session.SessionID(),
		"daily_pnl":     e.deps.Positions.DailyPnL(),
		"daily_pnl_pct": e.deps.Positions.DailyPnLPct(),
	})
	e.evaluateExits(ctx, now)
	return nil
}

// TokenInvalidHandler halts entries and flattens when the broker session
// token stops validating.
type TokenInvalidHandler struct{}

func (h *TokenInvalidHandler) Type() EventType { return EvtTokenInvalid }

func (h *TokenInvalidHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p TokenInvalidPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("token payload: %w", err)
		}
	}
	e := hc.Engine()
	if e.tokenInvalid {
		return nil
	}
	e.tokenInvalid = true
	logger.Errorf("broker token invalid (%s): entries halted, flattening", p.Detail)
	e.evaluateExits(context.Background(), time.Now())
	return nil
}

// ShutdownHandler begins the graceful flatten. The caller is expected to
// wait for open positions to drain (bounded by the flatten deadline) before
// calling Stop.
type ShutdownHandler struct{}

func (h *ShutdownHandler) Type() EventType { return EvtShutdown }

func (h *ShutdownHandler) Handle(hc *HandlerContext, _ []byte, _ string) error {
	e := hc.Engine()
	if e.shuttingDown {
		return nil
	}
	e.shuttingDown = true
	logger.Infof("shutdown requested: flattening %d positions", e.deps.Positions.OpenCount())
	e.evaluateExits(context.Background(), time.Now())
	return nil
}

// RiskTunablesHandler applies hot-reloaded risk parameters. New values take
// effect on the next price mark; existing trailing stops never loosen
// because the ratchet ignores downward candidates.
type RiskTunablesHandler struct{}

func (h *RiskTunablesHandler) Type() EventType { return EvtRiskTunables }

func (h *RiskTunablesHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p RiskTunablesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("tunables payload: %w", err)
	}
	e := hc.Engine()
	e.tunables = p.Tunables
	logger.Infof("risk tunables applied: trail_activate=%.4f trail_gap=%.4f target=%.4f",
		p.Tunables.TrailActivatePct, p.Tunables.TrailGapPct, p.Tunables.TargetPct)
	return nil
}

// Drained reports whether no positions remain and no exits are in flight.
// Used by shutdown to decide when it is safe to stop the loop.
func (e *Engine) Drained() bool {
	st := e.Snapshot()
	return len(st.Positions) == 0
}
