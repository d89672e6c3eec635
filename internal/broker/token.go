package broker

import (
	"context"
	"time"

	"optexec/internal/logger"
)

// TokenWatch polls the broker session token and invokes onInvalid exactly
// once if it stops validating. Live sessions can be revoked server-side at
// any time; the engine must flatten and halt when that happens.
type TokenWatch struct {
	validator TokenValidator
	interval  time.Duration
	onInvalid func(err error)
}

func NewTokenWatch(v TokenValidator, interval time.Duration, onInvalid func(error)) *TokenWatch {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TokenWatch{validator: v, interval: interval, onInvalid: onInvalid}
}

// Run blocks until ctx is cancelled or the token goes invalid.
func (w *TokenWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.validator.ValidateToken(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Errorf("broker token invalid: %v", err)
				w.onInvalid(err)
				return
			}
		}
	}
}
