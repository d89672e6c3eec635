// Package strategy holds the decision layer: the daily-direction/hourly
// alignment state machine and the entry signal generator.
package strategy

import (
	"sync"
	"time"

	"optexec/internal/logger"
	"optexec/internal/types"
)

// AlignmentState is the evaluator's phase for the trading day.
type AlignmentState string

const (
	NoDirection           AlignmentState = "NO_DIRECTION"
	DirectionSetUnaligned AlignmentState = "DIRECTION_SET_UNALIGNED"
	DirectionSetAligned   AlignmentState = "DIRECTION_SET_ALIGNED"
)

// AlignmentChange describes a transition produced by a bar evaluation.
type AlignmentChange struct {
	From      AlignmentState
	To        AlignmentState
	Direction types.Direction
	At        time.Time
}

// Lost reports an aligned → unaligned transition, which must enqueue an
// ALIGNMENT_LOST exit for open positions.
func (c AlignmentChange) Lost() bool {
	return c.From == DirectionSetAligned && c.To == DirectionSetUnaligned
}

// AlignmentEvaluator combines the daily direction with hourly confirmation.
// The daily direction is authoritative for the day; hourly bars only gate
// timing and can never flip it.
type AlignmentEvaluator struct {
	dailyThreshold  float64
	hourlyThreshold float64

	mu        sync.Mutex
	state     AlignmentState
	direction types.Direction
	setDay    string // "20060102" of the day the direction was fixed
	daily     types.IndicatorSnapshot
	hourly    types.IndicatorSnapshot
}

// NewAlignmentEvaluator starts in NO_DIRECTION.
func NewAlignmentEvaluator(dailyThreshold, hourlyThreshold float64) *AlignmentEvaluator {
	return &AlignmentEvaluator{
		dailyThreshold:  dailyThreshold,
		hourlyThreshold: hourlyThreshold,
		state:           NoDirection,
		direction:       types.DirectionNoTrade,
	}
}

// SetDailyDirection fixes the direction for the trading day from the daily
// snapshot. Called once per day; repeat calls for the same day are no-ops so
// a replayed daily bar cannot flip an established direction.
func (e *AlignmentEvaluator) SetDailyDirection(snap types.IndicatorSnapshot, day time.Time) (AlignmentChange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dayKey := day.Format("20060102")
	if e.setDay == dayKey {
		return AlignmentChange{}, false
	}
	e.setDay = dayKey
	e.daily = snap

	dir := resolveDirection(snap, e.dailyThreshold)
	from := e.state
	e.direction = dir
	if dir == types.DirectionNoTrade {
		e.state = NoDirection
		logger.Infof("daily direction: NO_TRADE (adx=%.2f +di=%.2f -di=%.2f)", snap.ADX, snap.PlusDI, snap.MinusDI)
		return AlignmentChange{From: from, To: e.state, Direction: dir, At: snap.BarTime}, from != e.state
	}
	e.state = DirectionSetUnaligned
	logger.Infof("daily direction: %s (adx=%.2f +di=%.2f -di=%.2f)", dir, snap.ADX, snap.PlusDI, snap.MinusDI)
	return AlignmentChange{From: from, To: e.state, Direction: dir, At: snap.BarTime}, true
}

// OnHourly recomputes alignment from an hourly snapshot. Returns the change
// when the state moved.
func (e *AlignmentEvaluator) OnHourly(snap types.IndicatorSnapshot) (AlignmentChange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hourly = snap
	if e.state == NoDirection {
		return AlignmentChange{}, false
	}

	aligned := snap.ADX >= e.hourlyThreshold && dominance(snap) == e.direction
	from := e.state
	if aligned {
		e.state = DirectionSetAligned
	} else {
		e.state = DirectionSetUnaligned
	}
	if e.state == from {
		return AlignmentChange{}, false
	}
	logger.Infof("alignment %s -> %s (hourly adx=%.2f +di=%.2f -di=%.2f, daily=%s)",
		from, e.state, snap.ADX, snap.PlusDI, snap.MinusDI, e.direction)
	return AlignmentChange{From: from, To: e.state, Direction: e.direction, At: snap.BarTime}, true
}

// State returns the current phase and direction.
func (e *AlignmentEvaluator) State() (AlignmentState, types.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.direction
}

// Hourly returns the latest hourly snapshot seen.
func (e *AlignmentEvaluator) Hourly() types.IndicatorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hourly
}

// ResetDay clears all state at the start of a new trading day.
func (e *AlignmentEvaluator) ResetDay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = NoDirection
	e.direction = types.DirectionNoTrade
	e.setDay = ""
	e.daily = types.IndicatorSnapshot{}
	e.hourly = types.IndicatorSnapshot{}
}

// resolveDirection maps a snapshot to CE/PE/NO_TRADE. Sub-threshold ADX or a
// DI tie yields NO_TRADE.
func resolveDirection(snap types.IndicatorSnapshot, threshold float64) types.Direction {
	if snap.ADX < threshold {
		return types.DirectionNoTrade
	}
	return dominance(snap)
}

func dominance(snap types.IndicatorSnapshot) types.Direction {
	switch {
	case snap.PlusDI > snap.MinusDI:
		return types.DirectionCE
	case snap.MinusDI > snap.PlusDI:
		return types.DirectionPE
	default:
		return types.DirectionNoTrade
	}
}
