package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/types"
)

func snap(adx, plusDI, minusDI float64) types.IndicatorSnapshot {
	return types.IndicatorSnapshot{ADX: adx, PlusDI: plusDI, MinusDI: minusDI, BarTime: time.Now()}
}

func TestDailyDirectionRequiresADXAndDominance(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	_, changed := e.SetDailyDirection(snap(30, 28, 15), day)
	require.True(t, changed)
	state, dir := e.State()
	assert.Equal(t, DirectionSetUnaligned, state)
	assert.Equal(t, types.DirectionCE, dir)
}

func TestDailyDirectionNoTradeOnWeakADX(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	e.SetDailyDirection(snap(20, 28, 15), day)
	state, dir := e.State()
	assert.Equal(t, NoDirection, state)
	assert.Equal(t, types.DirectionNoTrade, dir)
}

func TestDailyDirectionNoTradeOnDITie(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	e.SetDailyDirection(snap(30, 22, 22), day)
	_, dir := e.State()
	assert.Equal(t, types.DirectionNoTrade, dir)
}

func TestDailyDirectionSetOncePerDay(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	e.SetDailyDirection(snap(30, 28, 15), day)
	// A replayed daily bar with opposite dominance must not flip it.
	_, changed := e.SetDailyDirection(snap(40, 10, 35), day)
	assert.False(t, changed)
	_, dir := e.State()
	assert.Equal(t, types.DirectionCE, dir)

	// The next day it can.
	e.ResetDay()
	e.SetDailyDirection(snap(40, 10, 35), day.AddDate(0, 0, 1))
	_, dir = e.State()
	assert.Equal(t, types.DirectionPE, dir)
}

func TestHourlyAlignmentTransitions(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	e.SetDailyDirection(snap(30, 28, 15), day) // CE

	// Hourly confirms: strong ADX, +DI dominant.
	change, moved := e.OnHourly(snap(27, 30, 12))
	require.True(t, moved)
	assert.Equal(t, DirectionSetAligned, change.To)

	// Hourly dominance flips: alignment is lost, direction is not.
	change, moved = e.OnHourly(snap(27, 12, 30))
	require.True(t, moved)
	assert.True(t, change.Lost())
	_, dir := e.State()
	assert.Equal(t, types.DirectionCE, dir)

	// Weak hourly ADX alone also blocks alignment.
	e.OnHourly(snap(27, 30, 12))
	change, moved = e.OnHourly(snap(20, 30, 12))
	require.True(t, moved)
	assert.True(t, change.Lost())
}

func TestHourlyIgnoredWithoutDailyDirection(t *testing.T) {
	e := NewAlignmentEvaluator(25, 25)
	_, moved := e.OnHourly(snap(40, 30, 10))
	assert.False(t, moved)
}
