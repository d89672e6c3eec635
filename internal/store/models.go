package store

import (
	"time"

	"gorm.io/datatypes"
)

// ledgerEntryModel is one row of the idempotency ledger. Append-only; keys
// are never reused.
type ledgerEntryModel struct {
	Key       string    `gorm:"primaryKey;column:key"`
	CreatedAt time.Time `gorm:"column:created_at"`
	Processed bool      `gorm:"column:processed;index"`
	Outcome   string    `gorm:"column:outcome"`
}

func (ledgerEntryModel) TableName() string { return "idempotency_ledger" }

// auditEventModel is one row of the append-only audit log.
type auditEventModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	Type      string         `gorm:"column:type;index"`
	Symbol    string         `gorm:"column:symbol;index"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

func (auditEventModel) TableName() string { return "audit_events" }

// tradeModel archives a completed position.
type tradeModel struct {
	TradeID          string         `gorm:"primaryKey;column:trade_id"`
	PositionID       string         `gorm:"column:position_id;index"`
	Symbol           string         `gorm:"column:symbol;index"`
	Underlying       string         `gorm:"column:underlying"`
	Strike           int            `gorm:"column:strike"`
	Quantity         int            `gorm:"column:quantity"`
	EntryTime        time.Time      `gorm:"column:entry_time"`
	EntryPrice       float64        `gorm:"column:entry_price"`
	EntryReason      string         `gorm:"column:entry_reason"`
	ExitTime         time.Time      `gorm:"column:exit_time;index"`
	ExitPrice        float64        `gorm:"column:exit_price"`
	ExitReason       string         `gorm:"column:exit_reason"`
	SecondaryReasons datatypes.JSON `gorm:"column:secondary_reasons"`
	PnLGross         float64        `gorm:"column:pnl_gross"`
	PnLGrossPct      float64        `gorm:"column:pnl_gross_pct"`
	PnLNet           float64        `gorm:"column:pnl_net"`
	Brokerage        float64        `gorm:"column:brokerage"`
	DurationSec      int64          `gorm:"column:duration_sec"`
	VIXAtEntry       float64        `gorm:"column:vix_at_entry"`
	VIXAtExit        float64        `gorm:"column:vix_at_exit"`
}

func (tradeModel) TableName() string { return "trades" }

// barModel persists completed bars so a restart does not re-emit them.
type barModel struct {
	Symbol    string    `gorm:"primaryKey;column:symbol"`
	Timeframe string    `gorm:"primaryKey;column:timeframe"`
	OpenTime  time.Time `gorm:"primaryKey;column:open_time"`
	Open      float64   `gorm:"column:open"`
	High      float64   `gorm:"column:high"`
	Low       float64   `gorm:"column:low"`
	Close     float64   `gorm:"column:close"`
	Volume    int64     `gorm:"column:volume"`
}

func (barModel) TableName() string { return "bars" }
