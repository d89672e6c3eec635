package types

import "time"

type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position is an open option position. Mutated only by the position manager
// (stop/trailing updates) and the exit prioritizer (status transitions).
type Position struct {
	PositionID      string         `json:"position_id"`
	Symbol          string         `json:"symbol"`
	Underlying      string         `json:"underlying"`
	Strike          int            `json:"strike"`
	Direction       Direction      `json:"direction"`
	Side            Side           `json:"side"`
	Quantity        int            `json:"quantity"`
	EntryPrice      float64        `json:"entry_price"`
	EntryTime       time.Time      `json:"entry_time"`
	UnderlyingEntry float64        `json:"underlying_entry"`
	StopLoss        float64        `json:"stop_loss"`
	Target          float64        `json:"target,omitempty"`
	TrailingStop    float64        `json:"trailing_stop,omitempty"`
	TrailingActive  bool           `json:"trailing_active"`
	CurrentPrice    float64        `json:"current_price"`
	PnL             float64        `json:"pnl"`
	PnLPct          float64        `json:"pnl_pct"`
	Status          PositionStatus `json:"status"`
	EntryReason     string         `json:"entry_reason"`
	VIXAtEntry      float64        `json:"vix_at_entry"`
}

// Trade is the archived record of a completed position.
type Trade struct {
	TradeID          string    `json:"trade_id"`
	PositionID       string    `json:"position_id"`
	Symbol           string    `json:"symbol"`
	Underlying       string    `json:"underlying"`
	Strike           int       `json:"strike"`
	Quantity         int       `json:"quantity"`
	EntryTime        time.Time `json:"entry_time"`
	EntryPrice       float64   `json:"entry_price"`
	EntryReason      string    `json:"entry_reason"`
	ExitTime         time.Time `json:"exit_time"`
	ExitPrice        float64   `json:"exit_price"`
	ExitReason       string    `json:"exit_reason"`
	SecondaryReasons []string  `json:"secondary_reasons,omitempty"`
	PnLGross         float64   `json:"pnl_gross"`
	PnLGrossPct      float64   `json:"pnl_gross_pct"`
	PnLNet           float64   `json:"pnl_net"`
	Brokerage        float64   `json:"brokerage"`
	DurationSec      int64     `json:"duration_sec"`
	VIXAtEntry       float64   `json:"vix_at_entry"`
	VIXAtExit        float64   `json:"vix_at_exit"`
}
