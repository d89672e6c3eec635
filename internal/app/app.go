// Package app wires the process together: configuration, persistence, the
// broker stack, the engine actor and its timer pumps, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"optexec/internal/config"
	"optexec/internal/engine"
	"optexec/internal/logger"
	"optexec/internal/store"
	httpapi "optexec/internal/transport/http"
)

// App holds the built process graph. Construct with NewApp, then Run.
type App struct {
	cfg    *config.Config
	engine *engine.Engine
	st     *store.Store
	http   *httpapi.Server
	pumps  *pumps
}

// NewApp builds the full dependency graph without starting anything.
// cfgPath, when non-empty, enables hot reload of the tunable risk subset.
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg, cfgPath)
}

// Run starts the engine, the market pumps and the HTTP server, then blocks
// until ctx is cancelled. Cancellation triggers the flatten sequence: a
// shutdown event is sent and the loop keeps running until positions drain
// or the flatten deadline lapses.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.engine.Start()

	group, gctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.pumps.run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := group.Wait()
	if closeErr := a.st.Close(); closeErr != nil {
		logger.Warnf("store close failed: %v", closeErr)
	}
	return err
}

// shutdown flattens open positions and stops the loop. The graceful drain
// uses the retry ladder and is bounded by the configured flatten deadline;
// past the deadline it escalates to market-priced exits so a dead rung
// cannot leave positions carried overnight.
func (a *App) shutdown() {
	deadline := time.Duration(a.cfg.Orders.FlattenDeadlineSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if err := a.engine.EmitSync(ctx, engine.EvtShutdown, struct{}{}); err != nil {
		logger.Errorf("shutdown event failed: %v", err)
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for !a.engine.Drained() {
		select {
		case <-ctx.Done():
			logger.Errorf("flatten deadline %s reached with positions still open, escalating to market exits", deadline)
			a.forceFlatten()
			a.engine.Stop()
			return
		case <-ticker.C:
		}
	}
	a.engine.Stop()
}

// forceFlatten runs the market-price escalation pass with its own short
// budget, independent of the lapsed graceful deadline.
func (a *App) forceFlatten() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.engine.EmitSync(ctx, engine.EvtFlattenForce, struct{}{}); err != nil {
		logger.Errorf("force flatten failed: %v", err)
		return
	}
	if !a.engine.Drained() {
		logger.Errorf("positions remain after force flatten; manual reconciliation needed")
	}
}

// Engine exposes the actor for test and replay harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
