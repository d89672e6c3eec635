package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/types"
)

func stops() StopParams {
	return StopParams{
		StopLossPct:      0.20,
		TrailActivatePct: 0.02,
		TrailGapPct:      0.015,
	}
}

func openOne(t *testing.T, m *Manager, fill float64, qty int) *types.Position {
	t.Helper()
	intent := types.OrderIntent{Strike: 23450, Reason: types.ReasonBreakoutVolume}
	order := types.Order{
		Quantity:  qty,
		FillPrice: fill,
		FillTime:  time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}
	inst := types.Instrument{Symbol: "NIFTY24AUG23450CE", Underlying: "NIFTY", LotSize: 75, TickSize: 0.05}
	return m.Open(intent, order, types.DirectionCE, inst, 23455, 14.2, stops())
}

func TestOpenSetsHardStop(t *testing.T) {
	m := NewManager()
	pos := openOne(t, m, 150, 150)
	assert.InDelta(t, 120.0, pos.StopLoss, 1e-9) // entry * 0.80
	assert.Equal(t, types.PositionOpen, pos.Status)
	assert.Equal(t, 0.0, pos.Target, "target disabled when pct is zero")
	assert.Equal(t, 1, m.OpenCount())
}

func TestOpenSetsTargetWhenConfigured(t *testing.T) {
	m := NewManager()
	p := stops()
	p.TargetPct = 0.10
	intent := types.OrderIntent{Strike: 23450}
	order := types.Order{Quantity: 75, FillPrice: 100, FillTime: time.Now()}
	pos := m.Open(intent, order, types.DirectionCE, types.Instrument{Symbol: "X"}, 23455, 14, p)
	assert.InDelta(t, 110.0, pos.Target, 1e-9)
}

func TestTrailingActivatesAtThreshold(t *testing.T) {
	m := NewManager()
	pos := openOne(t, m, 150, 150)

	// +1.9% is below the activation threshold.
	pos, err := m.MarkPrice(pos.PositionID, 152.85, stops())
	require.NoError(t, err)
	assert.False(t, pos.TrailingActive)

	// +2% activates and places the stop 1.5% under price.
	pos, err = m.MarkPrice(pos.PositionID, 153.00, stops())
	require.NoError(t, err)
	assert.True(t, pos.TrailingActive)
	assert.InDelta(t, 153.00*0.985, pos.TrailingStop, 1e-9)
}

func TestTrailingStopRatchetsMonotonically(t *testing.T) {
	m := NewManager()
	pos := openOne(t, m, 150, 150)

	m.MarkPrice(pos.PositionID, 153.00, stops())
	m.MarkPrice(pos.PositionID, 160.00, stops())
	pos = m.Get(pos.PositionID)
	raised := pos.TrailingStop
	assert.InDelta(t, 160.00*0.985, raised, 1e-9)

	// A pullback must not loosen the stop.
	m.MarkPrice(pos.PositionID, 155.00, stops())
	pos = m.Get(pos.PositionID)
	assert.InDelta(t, raised, pos.TrailingStop, 1e-9)

	// Nor can a smaller trail gap arriving by hot reload.
	wider := stops()
	wider.TrailGapPct = 0.05
	m.MarkPrice(pos.PositionID, 156.00, wider)
	pos = m.Get(pos.PositionID)
	assert.InDelta(t, raised, pos.TrailingStop, 1e-9)
}

func TestMarkPriceIgnoresNonPositive(t *testing.T) {
	m := NewManager()
	pos := openOne(t, m, 150, 150)
	m.MarkPrice(pos.PositionID, 155, stops())
	before := m.Get(pos.PositionID).CurrentPrice
	m.MarkPrice(pos.PositionID, 0, stops())
	assert.Equal(t, before, m.Get(pos.PositionID).CurrentPrice)
}

func TestBeginCloseAndReopen(t *testing.T) {
	m := NewManager()
	pos := openOne(t, m, 150, 150)

	require.NoError(t, m.BeginClose(pos.PositionID))
	assert.Equal(t, types.PositionClosing, m.Get(pos.PositionID).Status)

	// Double BeginClose is rejected while the exit order works.
	assert.Error(t, m.BeginClose(pos.PositionID))

	m.Reopen(pos.PositionID)
	assert.Equal(t, types.PositionOpen, m.Get(pos.PositionID).Status)
}

func TestCloseComputesTradeEconomics(t *testing.T) {
	m := NewManager()
	m.StartDay(500_000)
	pos := openOne(t, m, 150, 150)

	exitAt := time.Date(2026, 8, 24, 11, 30, 0, 0, time.UTC)
	trade, err := m.Close(pos.PositionID, 165, exitAt, types.ReasonTarget, []string{types.ReasonTrailingStop}, 15.1)
	require.NoError(t, err)

	// gross = (165-150)*150 = 2250
	assert.InDelta(t, 2250.0, trade.PnLGross, 1e-9)
	assert.InDelta(t, 0.10, trade.PnLGrossPct, 1e-9)
	// 3bps per leg is under the Rs 20 floor at this notional:
	// 0.0003*150*150 = 6.75, 0.0003*165*150 = 7.425 -> both legs at 20
	assert.InDelta(t, 40.0, trade.Brokerage, 1e-9)
	assert.InDelta(t, 2210.0, trade.PnLNet, 1e-9)
	assert.Equal(t, int64(5400), trade.DurationSec)
	assert.Equal(t, []string{types.ReasonTrailingStop}, trade.SecondaryReasons)
	assert.Equal(t, 14.2, trade.VIXAtEntry)
	assert.Equal(t, 15.1, trade.VIXAtExit)

	assert.Equal(t, 0, m.OpenCount())
	assert.InDelta(t, 2210.0, m.DailyPnL(), 1e-9)
	assert.InDelta(t, 2210.0/500_000, m.DailyPnLPct(), 1e-9)
}

func TestBrokerageUsesRateAboveFloor(t *testing.T) {
	// 0.0003 * 500 * 1500 = 225 per leg, over the floor.
	assert.InDelta(t, 225.0, legBrokerage(500, 1500), 1e-9)
	assert.InDelta(t, 20.0, legBrokerage(100, 75), 1e-9)
}

func TestConsecutiveLossStreak(t *testing.T) {
	m := NewManager()
	m.StartDay(500_000)
	now := time.Now()

	p1 := openOne(t, m, 150, 150)
	m.Close(p1.PositionID, 120, now, types.ReasonStopLoss, nil, 14)
	assert.Equal(t, 1, m.ConsecutiveLosses())

	p2 := openOne(t, m, 150, 150)
	m.Close(p2.PositionID, 130, now, types.ReasonStopLoss, nil, 14)
	assert.Equal(t, 2, m.ConsecutiveLosses())

	// A winner resets the streak.
	p3 := openOne(t, m, 150, 150)
	m.Close(p3.PositionID, 170, now, types.ReasonTarget, nil, 14)
	assert.Equal(t, 0, m.ConsecutiveLosses())

	assert.Less(t, m.DailyPnL(), 0.0) // two losers outweigh the winner net of fees
}

func TestCloseUnknownPosition(t *testing.T) {
	m := NewManager()
	_, err := m.Close("missing", 100, time.Now(), types.ReasonStopLoss, nil, 14)
	assert.Error(t, err)
}
