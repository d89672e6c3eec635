package engine

import (
	"time"

	"optexec/internal/breaker"
	"optexec/internal/strategy"
	"optexec/internal/types"
)

// State is the read-only snapshot published for the HTTP API. Rebuilt by the
// loop after every handled event (throttled); readers never see partial
// updates.
type State struct {
	SessionID         string                   `json:"session_id"`
	Alignment         strategy.AlignmentState  `json:"alignment"`
	Direction         types.Direction          `json:"direction"`
	VIX               float64                  `json:"vix"`
	BreakerActive     bool                     `json:"breaker_active"`
	BreakerReason     breaker.Trip             `json:"breaker_reason,omitempty"`
	AcceptingEntries  bool                     `json:"accepting_entries"`
	DailyPnL          float64                  `json:"daily_pnl"`
	DailyPnLPct       float64                  `json:"daily_pnl_pct"`
	ConsecutiveLosses int                      `json:"consecutive_losses"`
	Quarantined       bool                     `json:"quarantined"`
	DataStale         bool                     `json:"data_stale"`
	EODReached        bool                     `json:"eod_reached"`
	TokenInvalid      bool                     `json:"token_invalid"`
	Positions         []types.Position         `json:"positions"`
	UpdatedAt         time.Time                `json:"updated_at"`
}
