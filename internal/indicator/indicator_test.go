package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/types"
)

func settings() Settings {
	return Settings{ADXPeriod: 14, RSIPeriod: 14, EMAPeriod: 9, VolumeAvgPeriod: 20}
}

// trendBars builds a steadily rising series long enough for every indicator
// to warm up.
func trendBars(n int) []types.Bar {
	base := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, n)
	price := 23000.0
	for i := 0; i < n; i++ {
		price += 10
		bars = append(bars, types.Bar{
			Symbol:    "NIFTY 50",
			Timeframe: "5m",
			OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price - 8,
			High:      price + 6,
			Low:       price - 12,
			Close:     price,
			Volume:    100_000 + int64(i)*1000,
		})
	}
	return bars
}

func TestComputeRejectsShortWindow(t *testing.T) {
	_, err := Compute(trendBars(10), settings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 15 bars")
}

func TestComputeRejectsEmptyWindow(t *testing.T) {
	_, err := Compute(nil, settings())
	assert.Error(t, err)
}

func TestComputeRejectsBadPeriods(t *testing.T) {
	_, err := Compute(trendBars(60), Settings{ADXPeriod: 0, RSIPeriod: 14, EMAPeriod: 9})
	assert.Error(t, err)
}

func TestComputeUptrendSnapshot(t *testing.T) {
	bars := trendBars(60)
	snap, err := Compute(bars, settings())
	require.NoError(t, err)

	assert.Equal(t, "NIFTY 50", snap.Symbol)
	assert.Equal(t, bars[len(bars)-1].OpenTime, snap.BarTime)

	// A monotone uptrend: +DI dominates, ADX is strong, RSI is elevated and
	// the EMA trails the last close.
	assert.Greater(t, snap.PlusDI, snap.MinusDI)
	assert.Greater(t, snap.ADX, 25.0)
	assert.Greater(t, snap.RSI, 60.0)
	assert.Greater(t, snap.EMA9, 0.0)
	assert.Less(t, snap.EMA9, bars[len(bars)-1].Close)
	assert.Greater(t, snap.AvgVolume, 0.0)
	assert.False(t, math.IsNaN(snap.ADX))
}

func TestComputeDowntrendDominance(t *testing.T) {
	bars := trendBars(60)
	// Mirror the series into a downtrend.
	for i := range bars {
		bars[i].Open = 47000 - bars[i].Open
		bars[i].Close = 47000 - bars[i].Close
		h, l := bars[i].High, bars[i].Low
		bars[i].High = 47000 - l
		bars[i].Low = 47000 - h
	}
	snap, err := Compute(bars, settings())
	require.NoError(t, err)
	assert.Greater(t, snap.MinusDI, snap.PlusDI)
}

func TestAvgVolumeIsRecentMean(t *testing.T) {
	bars := trendBars(60)
	snap, err := Compute(bars, settings())
	require.NoError(t, err)

	// SMA(20) of the last 20 volumes.
	var sum float64
	for _, b := range bars[len(bars)-20:] {
		sum += float64(b.Volume)
	}
	assert.InDelta(t, sum/20, snap.AvgVolume, 1e-6)
}
