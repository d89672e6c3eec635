package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optexec/internal/config"
	"optexec/internal/types"
)

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxPositions:      1,
		DailyLossLimitPct: 0.02,
		PriceBandPct:      0.05,
	}
}

func testBroker() config.BrokerConfig {
	return config.BrokerConfig{
		FreezeQtyNifty: 1800,
		FreezeQtyBank:  900,
		LotSizeNifty:   75,
		LotSizeBank:    30,
		TickSize:       0.05,
	}
}

func validInput() CheckInput {
	return CheckInput{
		Now:           time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		InEntryWindow: true,
		OpenPositions: 0,
		Quantity:      150,
		Price:         151.70,
		LTP:           150.00,
		Instrument: types.Instrument{
			Underlying: "NIFTY",
			LotSize:    75,
			TickSize:   0.05,
		},
		AccountBalance: 500_000,
		MarginRequired: 22_755,
	}
}

func TestGatePassesValidOrder(t *testing.T) {
	g := NewGate(testRisk(), testBroker())
	assert.NoError(t, g.Validate(validInput()))
}

func TestGateChecksFireInOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CheckInput)
		want   string
	}{
		{"position limit", func(in *CheckInput) { in.OpenPositions = 1 }, types.RejectPositionLimit},
		{"freeze quantity", func(in *CheckInput) { in.Quantity = 1875 }, types.RejectFreezeQuantity},
		{"price band high", func(in *CheckInput) { in.Price = 160 }, types.RejectPriceBand},
		{"price band low", func(in *CheckInput) { in.Price = 140 }, types.RejectPriceBand},
		{"lot size", func(in *CheckInput) { in.Quantity = 100 }, types.RejectLotSize},
		{"zero quantity", func(in *CheckInput) { in.Quantity = 0 }, types.RejectLotSize},
		{"tick size", func(in *CheckInput) { in.Price = 151.72 }, types.RejectTickSize},
		{"margin", func(in *CheckInput) { in.MarginRequired = 600_000 }, types.RejectMargin},
		{"daily loss", func(in *CheckInput) { in.DailyLossPct = -0.02 }, types.RejectDailyLoss},
		{"vix breaker", func(in *CheckInput) { in.BreakerActive = true }, types.RejectVIXBreaker},
		{"time window", func(in *CheckInput) { in.InEntryWindow = false }, types.RejectTimeWindow},
	}
	g := NewGate(testRisk(), testBroker())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			err := g.Validate(in)
			require.Error(t, err)
			var rej *RejectError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, tc.want, rej.Reason)
		})
	}
}

func TestGateFreezeLimitDependsOnUnderlying(t *testing.T) {
	g := NewGate(testRisk(), testBroker())
	in := validInput()
	in.Instrument.Underlying = "BANKNIFTY"
	in.Instrument.LotSize = 30
	in.Quantity = 960 // fine for NIFTY's 1800, over BANKNIFTY's 900
	err := g.Validate(in)
	require.Error(t, err)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, types.RejectFreezeQuantity, rej.Reason)
}

func TestGateSkipsPriceBandWithoutLTP(t *testing.T) {
	g := NewGate(testRisk(), testBroker())
	in := validInput()
	in.LTP = 0
	in.Price = 151.70
	assert.NoError(t, g.Validate(in))
}

func TestGateFirstFailureWins(t *testing.T) {
	g := NewGate(testRisk(), testBroker())
	in := validInput()
	in.OpenPositions = 1
	in.BreakerActive = true
	var rej *RejectError
	require.ErrorAs(t, g.Validate(in), &rej)
	assert.Equal(t, types.RejectPositionLimit, rej.Reason)
}
