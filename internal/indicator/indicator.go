// Package indicator computes the technical values that gate engine
// transitions. Stateless given a bar window.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"optexec/internal/types"
)

// Settings selects periods for one computation pass.
type Settings struct {
	ADXPeriod       int
	RSIPeriod       int
	EMAPeriod       int
	VolumeAvgPeriod int
}

// Compute produces a snapshot for the last bar of the window. The window must
// hold at least ADXPeriod+1 bars; shorter windows return an error rather than
// a partial snapshot.
func Compute(bars []types.Bar, cfg Settings) (types.IndicatorSnapshot, error) {
	var snap types.IndicatorSnapshot
	if len(bars) == 0 {
		return snap, fmt.Errorf("no bars")
	}
	if cfg.ADXPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.EMAPeriod <= 0 {
		return snap, fmt.Errorf("indicator periods must be positive")
	}
	need := cfg.ADXPeriod + 1
	if len(bars) < need {
		return snap, fmt.Errorf("need %d bars for ADX(%d), have %d", need, cfg.ADXPeriod, len(bars))
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	last := bars[len(bars)-1]
	snap = types.IndicatorSnapshot{
		Symbol:    last.Symbol,
		Timeframe: last.Timeframe,
		BarTime:   last.OpenTime,
		ADX:       lastValid(sanitizeSeries(talib.Adx(highs, lows, closes, cfg.ADXPeriod))),
		PlusDI:    lastValid(sanitizeSeries(talib.PlusDI(highs, lows, closes, cfg.ADXPeriod))),
		MinusDI:   lastValid(sanitizeSeries(talib.MinusDI(highs, lows, closes, cfg.ADXPeriod))),
	}
	if len(bars) > cfg.RSIPeriod {
		snap.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	}
	if len(bars) >= cfg.EMAPeriod {
		snap.EMA9 = lastValid(sanitizeSeries(talib.Ema(closes, cfg.EMAPeriod)))
	}
	if p := cfg.VolumeAvgPeriod; p > 0 && len(bars) >= p {
		snap.AvgVolume = lastValid(sanitizeSeries(talib.Sma(volumes, p)))
	}
	return snap, nil
}

// sanitizeSeries replaces NaN/Inf values with zero so downstream comparisons
// stay well defined.
func sanitizeSeries(series []float64) []float64 {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			series[i] = 0
		}
	}
	return series
}

// lastValid returns the last non-zero value of the series, or 0 when the
// series never warmed up.
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != 0 {
			return series[i]
		}
	}
	return 0
}
