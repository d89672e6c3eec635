package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"optexec/internal/audit"
	"optexec/internal/barclock"
	"optexec/internal/indicator"
	"optexec/internal/logger"
	"optexec/internal/types"
)

// TickHandler folds a tick into the bar clock, marks open positions and
// drives tick-level exit evaluation.
type TickHandler struct{}

func (h *TickHandler) Type() EventType { return EvtTick }

func (h *TickHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p TickPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("tick payload: %w", err)
	}
	e := hc.Engine()
	tick := p.Tick
	ctx := context.Background()

	e.ensureDayStarted(ctx, tick.Timestamp)
	if e.deps.Paper != nil {
		e.deps.Paper.OnTick(tick)
	}

	// A quarantined feed recovers when ticks flow again.
	if e.quarantined {
		e.quarantined = false
		logger.Infof("data quarantine lifted after %s", time.Since(e.quarantineAt).Round(time.Second))
	}

	if tick.Symbol == e.deps.Cfg.Strategy.SpotSymbol {
		e.lastSpotTick = tick.Timestamp
		e.spotPrice = tick.LTP
		if tick.Bid > 0 && tick.Ask > 0 && tick.LTP > 0 {
			e.spotSpread = (tick.Ask - tick.Bid) / tick.LTP
		}
		for _, bar := range e.deps.Bars.Apply(tick) {
			if err := e.Emit(EvtBarReady, BarReadyPayload{Bar: bar}); err != nil {
				logger.Errorf("emit bar ready: %v", err)
			}
		}
		for _, pos := range e.deps.Positions.List() {
			e.deps.Positions.MarkUnderlying(pos.PositionID, tick.LTP)
		}
		return nil
	}

	// Option tick: mark the matching position and re-check exits.
	marked := false
	for _, pos := range e.deps.Positions.List() {
		if pos.Symbol != tick.Symbol {
			continue
		}
		if _, err := e.deps.Positions.MarkPrice(pos.PositionID, tick.LTP, e.stopParams()); err != nil {
			logger.Warnf("mark price %s: %v", pos.PositionID[:8], err)
			continue
		}
		marked = true
	}
	if marked {
		e.evaluateExits(ctx, tick.Timestamp)
	}
	return nil
}

// BarReadyHandler persists the bar, recomputes indicators for its timeframe
// and runs the decision layer that depends on it.
type BarReadyHandler struct{}

func (h *BarReadyHandler) Type() EventType { return EvtBarReady }

func (h *BarReadyHandler) Handle(hc *HandlerContext, payload []byte, _ string) error {
	var p BarReadyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("bar payload: %w", err)
	}
	e := hc.Engine()
	bar := p.Bar
	ctx := context.Background()

	if fresh, err := e.deps.Store.SaveBar(ctx, bar); err != nil {
		logger.Errorf("bar persist: %v", err)
	} else if !fresh {
		// Already persisted: a replayed boundary, never re-processed.
		logger.Warnf("bar %s/%s %s seen before, skipping", bar.Symbol, bar.Timeframe, bar.OpenTime)
		return nil
	}
	e.deps.BarStore.Append(bar)

	switch barclock.Timeframe(bar.Timeframe) {
	case barclock.OneDay:
		e.onDailyBar(bar)
	case barclock.OneHour:
		e.onHourlyBar(ctx, bar)
	case barclock.FiveMinute:
		e.onSignalBar(ctx, bar)
	}
	return nil
}

func (e *Engine) computeIndicators(bar types.Bar, adxPeriod int) (types.IndicatorSnapshot, bool) {
	window := e.deps.BarStore.Window(bar.Symbol, bar.Timeframe, 0)
	snap, err := indicator.Compute(window, indicator.Settings{
		ADXPeriod:       adxPeriod,
		RSIPeriod:       e.deps.Cfg.Strategy.RSIPeriod,
		EMAPeriod:       e.deps.Cfg.Strategy.EMAPeriod,
		VolumeAvgPeriod: e.deps.Cfg.Strategy.VolumeAvgPeriod,
	})
	if err != nil {
		logger.Debugf("indicators %s/%s: %v", bar.Symbol, bar.Timeframe, err)
		return types.IndicatorSnapshot{}, false
	}
	return snap, true
}

func (e *Engine) onDailyBar(bar types.Bar) {
	snap, ok := e.computeIndicators(bar, e.deps.Cfg.Strategy.DailyADXPeriod)
	if !ok {
		return
	}
	e.deps.Align.SetDailyDirection(snap, bar.OpenTime)
}

func (e *Engine) onHourlyBar(ctx context.Context, bar types.Bar) {
	snap, ok := e.computeIndicators(bar, e.deps.Cfg.Strategy.HourlyADXPeriod)
	if !ok {
		return
	}
	change, moved := e.deps.Align.OnHourly(snap)
	if moved && change.Lost() {
		// Alignment loss is an exit condition for open positions.
		e.evaluateExits(ctx, bar.OpenTime)
	}
}

// BarSweepHandler flags silent bar boundaries and quarantines entries when
// the feed goes quiet past the data-gap threshold.
type BarSweepHandler struct{}

func (h *BarSweepHandler) Type() EventType { return EvtBarSweep }

func (h *BarSweepHandler) Handle(hc *HandlerContext, _ []byte, _ string) error {
	e := hc.Engine()
	now := time.Now()
	ctx := context.Background()

	for _, d := range e.deps.Bars.Sweep(now) {
		logger.Warnf("bar delayed: %s/%s boundary %s silent for %s", d.Symbol, d.Timeframe, d.OpenTime, d.Silence)
	}

	gap := time.Duration(e.deps.Cfg.Bars.DataGapThresholdSec) * time.Second
	if !e.quarantined && !e.lastSpotTick.IsZero() && now.Sub(e.lastSpotTick) > gap {
		e.quarantined = true
		e.quarantineAt = now
		logger.Errorf("data quarantine: no spot tick for %s, entries suspended", now.Sub(e.lastSpotTick).Round(time.Second))
		e.deps.Audit.Record(ctx, audit.EventDataQuarantine, e.deps.Cfg.Strategy.SpotSymbol, map[string]any{
			"silence_sec": int(now.Sub(e.lastSpotTick).Seconds()),
			"reason":      types.ReasonDataQuarantine,
		})
	}

	// A quarantine that outlives the recovery timeout is promoted to a
	// critical stale-data condition: an engine that cannot see prices must
	// not carry positions, so the flatten path takes over. The latch holds
	// for the rest of the session even if ticks come back.
	recovery := time.Duration(e.deps.Cfg.Bars.RecoveryTimeoutSec) * time.Second
	if e.quarantined && !e.dataCritical && now.Sub(e.quarantineAt) > recovery {
		e.dataCritical = true
		logger.Errorf("data quarantine unrecovered after %s: flattening all positions", now.Sub(e.quarantineAt).Round(time.Second))
		e.deps.Audit.Record(ctx, audit.EventDataStale, e.deps.Cfg.Strategy.SpotSymbol, map[string]any{
			"quarantined_sec": int(now.Sub(e.quarantineAt).Seconds()),
			"reason":          types.ReasonDataStale,
		})
		e.evaluateExits(ctx, now)
	}
	return nil
}
