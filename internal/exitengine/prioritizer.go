// Package exitengine decides when open positions must be closed and why.
// Exit conditions are grouped into four tiers; when several fire at once the
// highest tier supplies the recorded reason and the rest become secondary.
package exitengine

import (
	"time"

	"optexec/internal/logger"
	"optexec/internal/types"
)

// Mandatory flags are session-level conditions that force every position
// out regardless of price.
type Mandatory struct {
	EODReached    bool
	TokenInvalid  bool
	BreakerActive bool
	ShuttingDown  bool
	DataStale     bool
}

// PositionView is the per-position snapshot the prioritizer evaluates.
type PositionView struct {
	Position      types.Position
	MarginBreach  bool
	AlignmentLost bool
	BarVolume     int64
	AvgVolume     float64
	BarTime       time.Time
}

// Input is one evaluation cycle's worth of state.
type Input struct {
	Now          time.Time
	Mandatory    Mandatory
	DailyLossHit bool
	Positions    []PositionView
}

// Decision names the position to close and every reason that fired. Reason
// is the highest-tier condition; Secondary lists the rest in tier order.
type Decision struct {
	PositionID string
	Tier       types.ExitTier
	Reason     string
	Secondary  []string
}

type firing struct {
	tier   types.ExitTier
	reason string
}

// Prioritizer tracks slow-burn conditions (volume dry-up) across cycles and
// ranks exits within a cycle.
type Prioritizer struct {
	volumeDryRatio float64
	volumeDryAfter time.Duration
	drySince       map[string]time.Time // positionID -> first dry bar
}

func NewPrioritizer(volumeDryRatio float64, volumeDryAfter time.Duration) *Prioritizer {
	if volumeDryRatio <= 0 {
		volumeDryRatio = 0.5
	}
	if volumeDryAfter <= 0 {
		volumeDryAfter = 15 * time.Minute
	}
	return &Prioritizer{
		volumeDryRatio: volumeDryRatio,
		volumeDryAfter: volumeDryAfter,
		drySince:       make(map[string]time.Time),
	}
}

// Evaluate returns at most one Decision per cycle: the single highest-tier
// exit across all open positions. Positions already CLOSING are skipped, so
// a working exit order is never duplicated.
func (p *Prioritizer) Evaluate(in Input) (Decision, bool) {
	var best *Decision
	for _, pv := range in.Positions {
		if pv.Position.Status != types.PositionOpen {
			continue
		}
		firings := p.evaluateOne(in, pv)
		if len(firings) == 0 {
			continue
		}
		d := Decision{
			PositionID: pv.Position.PositionID,
			Tier:       firings[0].tier,
			Reason:     firings[0].reason,
		}
		for _, f := range firings[1:] {
			d.Secondary = append(d.Secondary, f.reason)
		}
		if best == nil || d.Tier < best.Tier {
			tmp := d
			best = &tmp
		}
	}
	if best == nil {
		return Decision{}, false
	}
	logger.Infof("exit decision: position=%s tier=%d reason=%s secondary=%v",
		best.PositionID, best.Tier, best.Reason, best.Secondary)
	return *best, true
}

// evaluateOne collects every condition that fires for one position, ordered
// by tier then declaration order.
func (p *Prioritizer) evaluateOne(in Input, pv PositionView) []firing {
	pos := pv.Position
	var out []firing
	add := func(tier types.ExitTier, reason string) {
		out = append(out, firing{tier: tier, reason: reason})
	}

	// Tier 1: mandatory.
	if in.Mandatory.ShuttingDown {
		add(types.TierMandatory, types.ReasonShutdown)
	}
	if in.Mandatory.EODReached {
		add(types.TierMandatory, types.ReasonEODExit)
	}
	if in.Mandatory.TokenInvalid {
		add(types.TierMandatory, types.ReasonTokenInvalid)
	}
	if in.Mandatory.BreakerActive {
		add(types.TierMandatory, types.ReasonVIXBreaker)
	}
	if in.Mandatory.DataStale {
		add(types.TierMandatory, types.ReasonDataStale)
	}

	// Tier 2: risk.
	if pos.CurrentPrice > 0 && pos.CurrentPrice <= pos.StopLoss {
		add(types.TierRisk, types.ReasonStopLoss)
	}
	if pv.MarginBreach {
		add(types.TierRisk, types.ReasonMarginBreach)
	}
	if in.DailyLossHit {
		add(types.TierRisk, types.ReasonDailyLossLimit)
	}

	// Tier 3: profit protection.
	if pos.Target > 0 && pos.CurrentPrice >= pos.Target {
		add(types.TierProfit, types.ReasonTarget)
	}
	if pos.TrailingActive && pos.CurrentPrice > 0 && pos.CurrentPrice <= pos.TrailingStop {
		add(types.TierProfit, types.ReasonTrailingStop)
	}

	// Tier 4: technical.
	if pv.AlignmentLost {
		add(types.TierTechnical, types.ReasonAlignmentLost)
	}
	if p.volumeDry(pos.PositionID, pv, in.Now) {
		add(types.TierTechnical, types.ReasonVolumeDry)
	}
	return out
}

// volumeDry fires when bar volume has stayed below the dry ratio of average
// volume for the full dry window. Any bar back above the ratio resets the
// clock.
func (p *Prioritizer) volumeDry(positionID string, pv PositionView, now time.Time) bool {
	if pv.AvgVolume <= 0 || pv.BarTime.IsZero() {
		return false
	}
	if float64(pv.BarVolume) >= p.volumeDryRatio*pv.AvgVolume {
		delete(p.drySince, positionID)
		return false
	}
	since, ok := p.drySince[positionID]
	if !ok {
		p.drySince[positionID] = pv.BarTime
		return false
	}
	return now.Sub(since) >= p.volumeDryAfter
}

// Forget clears cross-cycle state for a closed position.
func (p *Prioritizer) Forget(positionID string) {
	delete(p.drySince, positionID)
}
