// Package audit writes the append-only decision trail. Every signal, order
// outcome, position transition and breaker flip lands here with its full
// payload, so a session can be reconstructed from the log alone.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"optexec/internal/logger"
	"optexec/internal/store"
)

// Event types.
const (
	EventSignal           = "SIGNAL"
	EventSignalRejected   = "SIGNAL_REJECTED"
	EventOrderSubmitted   = "ORDER_SUBMITTED"
	EventOrderTerminal    = "ORDER_TERMINAL"
	EventDuplicateIgnored = "DUPLICATE_IGNORED"
	EventPositionOpened   = "POSITION_OPENED"
	EventPositionClosed   = "POSITION_CLOSED"
	EventBreakerTripped   = "BREAKER_TRIPPED"
	EventBreakerResumed   = "BREAKER_RESUMED"
	EventDataQuarantine   = "DATA_QUARANTINE"
	EventDataStale        = "DATA_STALE"
	EventSessionStart     = "SESSION_START"
	EventSessionEnd       = "SESSION_END"
)

// Log appends events to the store. Failures are logged and swallowed: the
// audit trail must never block trading decisions.
type Log struct {
	store *store.Store
	now   func() time.Time
}

func NewLog(s *store.Store) *Log {
	return &Log{store: s, now: time.Now}
}

// Record marshals payload and appends one event.
func (l *Log) Record(ctx context.Context, eventType, symbol string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("audit marshal %s: %v", eventType, err)
		return
	}
	evt := store.AuditEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Symbol:    symbol,
		Payload:   raw,
		CreatedAt: l.now(),
	}
	if err := l.store.AppendAudit(ctx, evt); err != nil {
		logger.Errorf("audit append %s: %v", eventType, err)
	}
}

// Tail returns the newest events for the HTTP API.
func (l *Log) Tail(ctx context.Context, limit int) ([]store.AuditEvent, error) {
	return l.store.AuditTail(ctx, limit)
}
