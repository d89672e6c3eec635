// Package position tracks open positions, their protective stops and the
// realized results of the session. All mutation goes through the Manager,
// which is owned by the engine goroutine and is not safe for concurrent use.
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"optexec/internal/logger"
	"optexec/internal/pkg/trading"
	"optexec/internal/types"
)

// StopParams are the risk knobs applied to a position over its life. The
// trailing fields may change between calls via config hot reload; the ratchet
// guarantees the stop never loosens regardless.
type StopParams struct {
	StopLossPct      float64
	TrailActivatePct float64
	TrailGapPct      float64
	TargetPct        float64
}

const (
	brokerageMinPerLeg = 20.0
	brokerageRate      = 0.0003
	underlyingSoftPct  = 0.01
)

// Manager owns the open position book.
type Manager struct {
	positions map[string]*types.Position

	dayPnL      float64 // realized net, resets daily
	consecutive int     // consecutive losing trades
	dayStart    float64 // balance at session open, for loss-pct math
}

func NewManager() *Manager {
	return &Manager{positions: make(map[string]*types.Position)}
}

// StartDay snapshots the opening balance and clears daily counters.
func (m *Manager) StartDay(openingBalance float64) {
	m.dayPnL = 0
	m.consecutive = 0
	m.dayStart = openingBalance
}

// Open registers a filled entry.
func (m *Manager) Open(intent types.OrderIntent, order types.Order, direction types.Direction, inst types.Instrument, underlyingEntry, vix float64, p StopParams) *types.Position {
	pos := &types.Position{
		PositionID:      uuid.NewString(),
		Symbol:          inst.Symbol,
		Underlying:      inst.Underlying,
		Strike:          intent.Strike,
		Direction:       direction,
		Side:            types.SideBuy,
		Quantity:        order.Quantity,
		EntryPrice:      order.FillPrice,
		EntryTime:       order.FillTime,
		UnderlyingEntry: underlyingEntry,
		StopLoss:        order.FillPrice * (1 - p.StopLossPct),
		CurrentPrice:    order.FillPrice,
		Status:          types.PositionOpen,
		EntryReason:     intent.Reason,
		VIXAtEntry:      vix,
	}
	if p.TargetPct > 0 {
		pos.Target = order.FillPrice * (1 + p.TargetPct)
	}
	m.positions[pos.PositionID] = pos
	logger.Infof("position opened: %s %s qty=%d entry=%.2f stop=%.2f",
		pos.PositionID[:8], pos.Symbol, pos.Quantity, pos.EntryPrice, pos.StopLoss)
	return pos
}

// MarkPrice applies a fresh option quote: recomputes PnL, activates the
// trailing stop once unrealized profit reaches the activation threshold and
// ratchets it monotonically upward afterwards. The stop can only tighten.
func (m *Manager) MarkPrice(positionID string, price float64, p StopParams) (*types.Position, error) {
	pos, ok := m.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s not found", positionID)
	}
	if price <= 0 {
		return pos, nil
	}
	pos.CurrentPrice = price
	pos.PnLPct = trading.PnLPct(pos.EntryPrice, price)
	pos.PnL = (price - pos.EntryPrice) * float64(pos.Quantity)

	if !pos.TrailingActive && pos.PnLPct >= p.TrailActivatePct {
		pos.TrailingActive = true
		pos.TrailingStop = price * (1 - p.TrailGapPct)
		logger.Infof("position %s: trailing activated at %.2f, stop=%.2f",
			pos.PositionID[:8], price, pos.TrailingStop)
	} else if pos.TrailingActive {
		candidate := decimal.NewFromFloat(price).
			Mul(decimal.NewFromFloat(1 - p.TrailGapPct))
		if candidate.GreaterThan(decimal.NewFromFloat(pos.TrailingStop)) {
			f, _ := candidate.Float64()
			pos.TrailingStop = f
		}
	}
	return pos, nil
}

// MarkUnderlying is a soft check: it logs when the underlying has moved more
// than 1% against the position's direction. No exit is triggered here.
func (m *Manager) MarkUnderlying(positionID string, underlying float64) {
	pos, ok := m.positions[positionID]
	if !ok || pos.UnderlyingEntry <= 0 || underlying <= 0 {
		return
	}
	move := (underlying - pos.UnderlyingEntry) / pos.UnderlyingEntry
	adverse := (pos.Direction == types.DirectionCE && move < -underlyingSoftPct) ||
		(pos.Direction == types.DirectionPE && move > underlyingSoftPct)
	if adverse {
		logger.Warnf("position %s: underlying moved %.2f%% against %s",
			pos.PositionID[:8], move*100, pos.Direction)
	}
}

// BeginClose transitions OPEN -> CLOSING so further exit evaluation skips
// the position while its exit order works.
func (m *Manager) BeginClose(positionID string) error {
	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s not found", positionID)
	}
	if pos.Status != types.PositionOpen {
		return fmt.Errorf("position %s is %s, not OPEN", positionID, pos.Status)
	}
	pos.Status = types.PositionClosing
	return nil
}

// Reopen reverts CLOSING back to OPEN when an exit order failed permanently
// and the position is still live at the broker.
func (m *Manager) Reopen(positionID string) {
	if pos, ok := m.positions[positionID]; ok && pos.Status == types.PositionClosing {
		pos.Status = types.PositionOpen
	}
}

// Close archives the position as a Trade, updates the day's realized PnL and
// the consecutive-loss counter, and removes it from the book.
func (m *Manager) Close(positionID string, exitPrice float64, exitTime time.Time, reason string, secondary []string, vixAtExit float64) (types.Trade, error) {
	pos, ok := m.positions[positionID]
	if !ok {
		return types.Trade{}, fmt.Errorf("position %s not found", positionID)
	}
	gross := (exitPrice - pos.EntryPrice) * float64(pos.Quantity)
	fees := legBrokerage(pos.EntryPrice, pos.Quantity) + legBrokerage(exitPrice, pos.Quantity)
	trade := types.Trade{
		TradeID:          uuid.NewString(),
		PositionID:       pos.PositionID,
		Symbol:           pos.Symbol,
		Underlying:       pos.Underlying,
		Strike:           pos.Strike,
		Quantity:         pos.Quantity,
		EntryTime:        pos.EntryTime,
		EntryPrice:       pos.EntryPrice,
		EntryReason:      pos.EntryReason,
		ExitTime:         exitTime,
		ExitPrice:        exitPrice,
		ExitReason:       reason,
		SecondaryReasons: secondary,
		PnLGross:         gross,
		PnLGrossPct:      trading.PnLPct(pos.EntryPrice, exitPrice),
		PnLNet:           gross - fees,
		Brokerage:        fees,
		DurationSec:      int64(exitTime.Sub(pos.EntryTime).Seconds()),
		VIXAtEntry:       pos.VIXAtEntry,
		VIXAtExit:        vixAtExit,
	}
	pos.Status = types.PositionClosed
	delete(m.positions, positionID)

	m.dayPnL += trade.PnLNet
	if trade.PnLNet < 0 {
		m.consecutive++
	} else {
		m.consecutive = 0
	}
	logger.Infof("position closed: %s %s pnl=%.2f (%.2f%%) reason=%s",
		pos.PositionID[:8], pos.Symbol, trade.PnLNet, trade.PnLGrossPct*100, reason)
	return trade, nil
}

// legBrokerage is the per-leg fee: 3bps of notional with a flat minimum.
func legBrokerage(price float64, qty int) float64 {
	return math.Max(brokerageMinPerLeg, brokerageRate*price*float64(qty))
}

// Get returns the live position, or nil.
func (m *Manager) Get(positionID string) *types.Position {
	return m.positions[positionID]
}

// List returns copies of all live positions, OPEN and CLOSING.
func (m *Manager) List() []types.Position {
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount counts positions still OPEN (CLOSING ones no longer accept
// exits but still occupy a slot).
func (m *Manager) OpenCount() int {
	return len(m.positions)
}

// DailyPnL is the session's realized net PnL.
func (m *Manager) DailyPnL() float64 { return m.dayPnL }

// DailyPnLPct is realized net PnL over the opening balance.
func (m *Manager) DailyPnLPct() float64 {
	if m.dayStart <= 0 {
		return 0
	}
	return m.dayPnL / m.dayStart
}

// ConsecutiveLosses is the current losing streak length.
func (m *Manager) ConsecutiveLosses() int { return m.consecutive }
