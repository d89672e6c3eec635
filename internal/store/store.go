// Package store is the sqlite persistence layer: the idempotency ledger,
// the append-only audit log, completed bars and archived trades.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"optexec/internal/types"
)

// Store wraps a gorm sqlite database.
type Store struct {
	db *gorm.DB
}

// Open initializes the database at path, creating parent directories and
// running migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&ledgerEntryModel{},
		&auditEventModel{},
		&tradeModel{},
		&barModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep write contention low while HTTP reads run.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the raw handle for shared connections.
func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	return s.db.DB()
}

// ---------------------------- idempotency ledger ----------------------------

// ReserveKey inserts the key if unseen. Returns false when the key already
// exists, regardless of processed state. Insert-or-nothing in one statement,
// so two near-simultaneous reservations cannot both succeed.
func (s *Store) ReserveKey(ctx context.Context, key string, at time.Time) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("ledger: empty key")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ledgerEntryModel{Key: key, CreatedAt: at})
	if res.Error != nil {
		return false, fmt.Errorf("ledger reserve failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkProcessed records the terminal outcome for a reserved key.
func (s *Store) MarkProcessed(ctx context.Context, key, outcome string) error {
	res := s.db.WithContext(ctx).
		Model(&ledgerEntryModel{}).
		Where("key = ?", key).
		Updates(map[string]any{"processed": true, "outcome": outcome})
	if res.Error != nil {
		return fmt.Errorf("ledger mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ledger mark: key %s not reserved", key)
	}
	return nil
}

// ReleaseKey removes a reserved key that never reached a terminal fill, so
// the same logical action can be attempted again. Processed keys are never
// released.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).
		Where("key = ? AND processed = ?", key, false).
		Delete(&ledgerEntryModel{})
	if res.Error != nil {
		return fmt.Errorf("ledger release failed: %w", res.Error)
	}
	return nil
}

// KeyProcessed reports whether the key exists and has reached a terminal
// outcome.
func (s *Store) KeyProcessed(ctx context.Context, key string) (bool, error) {
	var m ledgerEntryModel
	err := s.db.WithContext(ctx).First(&m, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Processed, nil
}

// ---------------------------------- audit ----------------------------------

// AuditEvent is one structured record in the append-only audit log.
type AuditEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendAudit writes one event. Append-only: rows are never updated.
func (s *Store) AppendAudit(ctx context.Context, evt AuditEvent) error {
	m := auditEventModel{
		ID:        evt.ID,
		Type:      evt.Type,
		Symbol:    evt.Symbol,
		Payload:   datatypes.JSON(evt.Payload),
		CreatedAt: evt.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

// AuditTail returns the most recent events, newest first.
func (s *Store) AuditTail(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []auditEventModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEvent, 0, len(models))
	for _, m := range models {
		out = append(out, AuditEvent{
			ID:        m.ID,
			Type:      m.Type,
			Symbol:    m.Symbol,
			Payload:   json.RawMessage(m.Payload),
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// ---------------------------------- trades ----------------------------------

// SaveTrade archives a completed position.
func (s *Store) SaveTrade(ctx context.Context, t types.Trade) error {
	secondary, err := json.Marshal(t.SecondaryReasons)
	if err != nil {
		return err
	}
	m := tradeModel{
		TradeID:          t.TradeID,
		PositionID:       t.PositionID,
		Symbol:           t.Symbol,
		Underlying:       t.Underlying,
		Strike:           t.Strike,
		Quantity:         t.Quantity,
		EntryTime:        t.EntryTime,
		EntryPrice:       t.EntryPrice,
		EntryReason:      t.EntryReason,
		ExitTime:         t.ExitTime,
		ExitPrice:        t.ExitPrice,
		ExitReason:       t.ExitReason,
		SecondaryReasons: datatypes.JSON(secondary),
		PnLGross:         t.PnLGross,
		PnLGrossPct:      t.PnLGrossPct,
		PnLNet:           t.PnLNet,
		Brokerage:        t.Brokerage,
		DurationSec:      t.DurationSec,
		VIXAtEntry:       t.VIXAtEntry,
		VIXAtExit:        t.VIXAtExit,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("trade save failed: %w", err)
	}
	return nil
}

// TradesSince lists trades whose exit is at or after since, oldest first.
func (s *Store) TradesSince(ctx context.Context, since time.Time) ([]types.Trade, error) {
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("exit_time >= ?", since).
		Order("exit_time ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(models))
	for _, m := range models {
		var secondary []string
		if len(m.SecondaryReasons) > 0 {
			_ = json.Unmarshal(m.SecondaryReasons, &secondary)
		}
		out = append(out, types.Trade{
			TradeID:          m.TradeID,
			PositionID:       m.PositionID,
			Symbol:           m.Symbol,
			Underlying:       m.Underlying,
			Strike:           m.Strike,
			Quantity:         m.Quantity,
			EntryTime:        m.EntryTime,
			EntryPrice:       m.EntryPrice,
			EntryReason:      m.EntryReason,
			ExitTime:         m.ExitTime,
			ExitPrice:        m.ExitPrice,
			ExitReason:       m.ExitReason,
			SecondaryReasons: secondary,
			PnLGross:         m.PnLGross,
			PnLGrossPct:      m.PnLGrossPct,
			PnLNet:           m.PnLNet,
			Brokerage:        m.Brokerage,
			DurationSec:      m.DurationSec,
			VIXAtEntry:       m.VIXAtEntry,
			VIXAtExit:        m.VIXAtExit,
		})
	}
	return out, nil
}

// ----------------------------------- bars -----------------------------------

// SaveBar persists a completed bar. Conflicts on (symbol, timeframe,
// open_time) are ignored: a bar is immutable once written.
func (s *Store) SaveBar(ctx context.Context, b types.Bar) (bool, error) {
	m := barModel{
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe,
		OpenTime:  b.OpenTime,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return false, fmt.Errorf("bar save failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecentBars loads up to n most recent bars, oldest first.
func (s *Store) RecentBars(ctx context.Context, symbol, timeframe string, n int) ([]types.Bar, error) {
	var models []barModel
	if err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("open_time DESC").
		Limit(n).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Bar, len(models))
	for i, m := range models {
		out[len(models)-1-i] = types.Bar{
			Symbol:    m.Symbol,
			Timeframe: m.Timeframe,
			OpenTime:  m.OpenTime,
			Open:      m.Open,
			High:      m.High,
			Low:       m.Low,
			Close:     m.Close,
			Volume:    m.Volume,
		}
	}
	return out, nil
}
