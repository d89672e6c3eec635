package strategy

import (
	"time"

	"optexec/internal/config"
	"optexec/internal/logger"
	"optexec/internal/pkg/trading"
	"optexec/internal/types"
)

// Signal is an entry request before risk gating.
type Signal struct {
	Direction types.Direction
	Strike    int
	Reason    string
	LTP       float64 // option-relevant underlying price at trigger
	At        time.Time
}

// FilterInput carries everything the ordered entry filter set needs. All
// fields are plain values; the caller snapshots shared state before handing
// it over.
type FilterInput struct {
	Now               time.Time
	InEntryWindow     bool
	SessionOpen       bool
	OpenPositions     int
	MaxPositions      int
	VIX               float64
	VIXCeiling        float64
	DailyLossBreached bool
	BarVolume         int64
	AvgVolume         float64
	VolumeRatio       float64
	Spread            float64
	SpreadCeiling     float64
	MarginHeadroom    bool
	ConsecutiveLosses int
	ConsecLossLimit   int
}

// FilterResult names the first filter that failed, empty when all passed.
type FilterResult struct {
	Passed bool
	Failed string
}

// evaluateFilters runs the ordered filter set. All must pass; the first
// failure is reported and the rest are not evaluated.
func evaluateFilters(in FilterInput) FilterResult {
	checks := []struct {
		name string
		ok   bool
	}{
		{"time_window", in.InEntryWindow},
		{"position_count", in.OpenPositions < in.MaxPositions},
		{"vix_ceiling", in.VIX < in.VIXCeiling},
		{"daily_loss", !in.DailyLossBreached},
		{"volume", in.AvgVolume > 0 && float64(in.BarVolume) >= in.VolumeRatio*in.AvgVolume},
		{"spread", in.Spread <= in.SpreadCeiling},
		{"margin_headroom", in.MarginHeadroom},
		{"loss_cooldown", in.ConsecutiveLosses < in.ConsecLossLimit},
		{"session_open", in.SessionOpen},
	}
	for _, c := range checks {
		if !c.ok {
			return FilterResult{Failed: c.name}
		}
	}
	return FilterResult{Passed: true}
}

// Generator evaluates entry triggers on completed bars. It runs only while
// the alignment evaluator reports DIRECTION_SET_ALIGNED and only from
// bar-ready events.
type Generator struct {
	cfg config.StrategyConfig
}

func NewGenerator(cfg config.StrategyConfig) *Generator {
	return &Generator{cfg: cfg}
}

// Evaluate applies the filters and the two trigger families to the freshest
// completed bar. bars is the rolling window oldest-first with the trigger bar
// last; snap is the indicator snapshot for that bar. Either family firing
// produces exactly one signal.
func (g *Generator) Evaluate(direction types.Direction, bars []types.Bar, snap types.IndicatorSnapshot, in FilterInput) (Signal, bool) {
	if direction != types.DirectionCE && direction != types.DirectionPE {
		return Signal{}, false
	}
	if len(bars) < 2 {
		return Signal{}, false
	}
	if res := evaluateFilters(in); !res.Passed {
		logger.Debugf("entry filters: %s failed", res.Failed)
		return Signal{}, false
	}

	bar := bars[len(bars)-1]
	reason, fired := g.breakoutTrigger(direction, bars, snap)
	if !fired {
		reason, fired = g.bounceTrigger(direction, bar, snap)
	}
	if !fired {
		return Signal{}, false
	}

	sig := Signal{
		Direction: direction,
		Strike:    trading.ATMStrike(bar.Close, g.cfg.StrikeIncrement),
		Reason:    reason,
		LTP:       bar.Close,
		At:        bar.OpenTime,
	}
	logger.Infof("signal: %s strike=%d reason=%s ltp=%.2f", direction, sig.Strike, reason, bar.Close)
	return sig, true
}

// breakoutTrigger fires when the trigger bar closes beyond the extreme of
// the preceding window on elevated volume.
func (g *Generator) breakoutTrigger(direction types.Direction, bars []types.Bar, snap types.IndicatorSnapshot) (string, bool) {
	bar := bars[len(bars)-1]
	prior := bars[:len(bars)-1]
	if len(prior) == 0 || snap.AvgVolume <= 0 {
		return "", false
	}
	if float64(bar.Volume) < g.cfg.VolumeEntryRatio*snap.AvgVolume {
		return "", false
	}
	switch direction {
	case types.DirectionCE:
		high := prior[0].High
		for _, b := range prior {
			if b.High > high {
				high = b.High
			}
		}
		if bar.Close > high {
			return types.ReasonBreakoutVolume, true
		}
	case types.DirectionPE:
		low := prior[0].Low
		for _, b := range prior {
			if b.Low < low {
				low = b.Low
			}
		}
		if bar.Close < low {
			return types.ReasonBreakoutVolume, true
		}
	}
	return "", false
}

// bounceTrigger fires on an RSI recovery through the EMA on the matching
// side: a bounce off the EMA for CE, a rejection at the EMA for PE.
func (g *Generator) bounceTrigger(direction types.Direction, bar types.Bar, snap types.IndicatorSnapshot) (string, bool) {
	if snap.EMA9 <= 0 || snap.RSI <= 0 {
		return "", false
	}
	switch direction {
	case types.DirectionCE:
		bounced := bar.Low <= snap.EMA9 && bar.Close > snap.EMA9
		if bounced && snap.RSI > g.cfg.RSIOversold && snap.RSI < g.cfg.RSIOverbought {
			return types.ReasonRSIEMABounce, true
		}
	case types.DirectionPE:
		rejected := bar.High >= snap.EMA9 && bar.Close < snap.EMA9
		if rejected && snap.RSI > g.cfg.RSIOversold && snap.RSI < g.cfg.RSIOverbought {
			return types.ReasonRSIEMABounce, true
		}
	}
	return "", false
}
