// Package executor turns order intents into exactly one terminal broker
// outcome each, walking the price retry ladder and enforcing idempotency.
package executor

import (
	"context"
	"time"

	"optexec/internal/store"
)

// ReservationLedger is the idempotency gate the executor consults. *Ledger
// is the production implementation.
type ReservationLedger interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Settle(ctx context.Context, key, outcome string) error
	Release(ctx context.Context, key string) error
}

// Ledger is the idempotency gate in front of the executor. A key is reserved
// before the first submission and marked processed only when the intent
// fills; a ladder that ends in rejection or exhaustion releases the key so
// the same logical action can be attempted again.
type Ledger struct {
	store *store.Store
}

func NewLedger(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Reserve claims the key. False means the key was seen before and the
// intent must be dropped as a duplicate.
func (l *Ledger) Reserve(ctx context.Context, key string) (bool, error) {
	return l.store.ReserveKey(ctx, key, time.Now())
}

// Settle records the terminal outcome for a reserved key.
func (l *Ledger) Settle(ctx context.Context, key, outcome string) error {
	return l.store.MarkProcessed(ctx, key, outcome)
}

// Release frees a reserved key whose ladder failed without a fill.
func (l *Ledger) Release(ctx context.Context, key string) error {
	return l.store.ReleaseKey(ctx, key)
}
