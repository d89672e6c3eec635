package risk

import (
	"github.com/shopspring/decimal"

	"optexec/internal/config"
	"optexec/internal/logger"
)

// Sizer converts account balance and market conditions into an order
// quantity, always a whole number of lots.
type Sizer struct {
	risk   config.RiskConfig
	broker config.BrokerConfig
}

func NewSizer(risk config.RiskConfig, broker config.BrokerConfig) *Sizer {
	return &Sizer{risk: risk, broker: broker}
}

// VIXMultiplier interpolates linearly between the configured anchors.
// Never step-discontinuous between 12 and 30.
func (s *Sizer) VIXMultiplier(vix float64) float64 {
	a := s.risk.VIX
	switch {
	case vix <= 12:
		return a.MultAt12OrBelow
	case vix <= 20:
		t := (vix - 12) / 8
		return a.MultAt12OrBelow*(1-t) + a.MultAt20*t
	case vix <= 30:
		t := (vix - 20) / 10
		return a.MultAt20*(1-t) + a.MultAt30*t
	default:
		return a.MultAt30OrAbove
	}
}

// DTEMultiplier is a step function over days to expiry.
func (s *Sizer) DTEMultiplier(dte int) float64 {
	switch {
	case dte >= 5:
		return 1.00
	case dte >= 2:
		return 0.75
	default:
		return 0.50
	}
}

// Quantity computes
//
//	floor(balance * basePct * vixMult * dteMult / (premium * lot)) * lot
//
// capped by the freeze quantity and the configured max. Zero when the
// premium cannot support a single lot.
func (s *Sizer) Quantity(balance, premium, vix float64, dte int, underlying string) int {
	lot := s.broker.LotSize(underlying)
	if premium <= 0 || lot <= 0 || balance <= 0 {
		return 0
	}
	vixMult := s.VIXMultiplier(vix)
	dteMult := s.DTEMultiplier(dte)

	budget := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(s.risk.BasePositionSizePct)).
		Mul(decimal.NewFromFloat(vixMult)).
		Mul(decimal.NewFromFloat(dteMult))
	perLot := decimal.NewFromFloat(premium).Mul(decimal.NewFromInt(int64(lot)))
	lots := budget.Div(perLot).IntPart() // truncates toward zero

	qty := int(lots) * lot
	if freeze := s.broker.FreezeQuantity(underlying); qty > freeze {
		qty = (freeze / lot) * lot
	}
	if s.risk.MaxQuantity > 0 && qty > s.risk.MaxQuantity {
		qty = (s.risk.MaxQuantity / lot) * lot
	}
	if qty < 0 {
		qty = 0
	}
	logger.Debugf("sizing: vix=%.1f(mult=%.3f) dte=%d(mult=%.2f) premium=%.2f -> qty=%d",
		vix, vixMult, dte, dteMult, premium, qty)
	return qty
}
