// Package risk implements pre-trade validation and position sizing.
package risk

import (
	"fmt"
	"time"

	"optexec/internal/config"
	"optexec/internal/pkg/trading"
	"optexec/internal/types"
)

// RejectError carries the machine-readable reason for a failed check.
// Validation failures are rejected locally and never retried.
type RejectError struct {
	Reason string
	Detail string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason, format string, args ...any) error {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// CheckInput is the snapshot the gate validates against.
type CheckInput struct {
	Now            time.Time
	InEntryWindow  bool
	OpenPositions  int
	Quantity       int
	Price          float64
	LTP            float64
	Instrument     types.Instrument
	AccountBalance float64
	MarginRequired float64
	DailyLossPct   float64 // negative when losing
	BreakerActive  bool
}

// Gate runs the nine mandatory pre-order checks.
type Gate struct {
	risk   config.RiskConfig
	broker config.BrokerConfig
}

func NewGate(risk config.RiskConfig, broker config.BrokerConfig) *Gate {
	return &Gate{risk: risk, broker: broker}
}

// Validate runs every check in order and returns the first failure as a
// *RejectError. A nil return means the order may proceed to the executor.
func (g *Gate) Validate(in CheckInput) error {
	// 1. Position limit.
	if in.OpenPositions >= g.risk.MaxPositions {
		return reject(types.RejectPositionLimit, "open positions %d at limit %d", in.OpenPositions, g.risk.MaxPositions)
	}
	// 2. Freeze quantity.
	if freeze := g.broker.FreezeQuantity(in.Instrument.Underlying); in.Quantity > freeze {
		return reject(types.RejectFreezeQuantity, "quantity %d exceeds freeze limit %d for %s", in.Quantity, freeze, in.Instrument.Underlying)
	}
	// 3. Price band around LTP.
	if in.LTP > 0 {
		band := in.LTP * g.risk.PriceBandPct
		if in.Price > in.LTP+band || in.Price < in.LTP-band {
			return reject(types.RejectPriceBand, "price %.2f outside band [%.2f, %.2f]", in.Price, in.LTP-band, in.LTP+band)
		}
	}
	// 4. Lot-size multiple.
	if lot := in.Instrument.LotSize; lot <= 0 || in.Quantity <= 0 || in.Quantity%lot != 0 {
		return reject(types.RejectLotSize, "quantity %d is not a positive multiple of lot size %d", in.Quantity, in.Instrument.LotSize)
	}
	// 5. Tick-size multiple.
	if !trading.IsTickMultiple(in.Price, in.Instrument.TickSize) {
		return reject(types.RejectTickSize, "price %.4f not on tick grid %.2f", in.Price, in.Instrument.TickSize)
	}
	// 6. Margin available.
	if in.MarginRequired > in.AccountBalance {
		return reject(types.RejectMargin, "required %.2f exceeds available %.2f", in.MarginRequired, in.AccountBalance)
	}
	// 7. Daily loss not breached.
	if in.DailyLossPct <= -g.risk.DailyLossLimitPct {
		return reject(types.RejectDailyLoss, "daily loss %.2f%% at limit %.2f%%", in.DailyLossPct*100, g.risk.DailyLossLimitPct*100)
	}
	// 8. VIX circuit breaker inactive.
	if in.BreakerActive {
		return reject(types.RejectVIXBreaker, "circuit breaker active")
	}
	// 9. Time-of-day window.
	if !in.InEntryWindow {
		return reject(types.RejectTimeWindow, "outside entry window at %s", in.Now.Format("15:04:05"))
	}
	return nil
}
