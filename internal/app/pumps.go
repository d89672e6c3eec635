package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/engine"
	"optexec/internal/logger"
)

const (
	sweepInterval   = 30 * time.Second
	eodInterval     = 15 * time.Second
	vixPollInterval = 30 * time.Second
)

// pumps feed the engine's event channel from the outside world: ticks from
// the market feed, periodic sweeps, EOD checks, VIX samples and the token
// watch. They own no trading state.
type pumps struct {
	cfg       *config.Config
	engine    *engine.Engine
	feed      broker.MarketFeed
	validator broker.TokenValidator
}

func (p *pumps) run(ctx context.Context) error {
	// Nil filter: option contract symbols are only known after strike
	// resolution, so the feed must pass everything. The engine routes spot
	// vs contract ticks itself.
	if err := p.feed.Subscribe(ctx, nil); err != nil {
		return err
	}
	defer p.feed.Close()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.tickPump(gctx) })
	group.Go(func() error { return p.timerPump(gctx) })
	group.Go(func() error { p.tokenPump(gctx); return nil })
	return group.Wait()
}

func (p *pumps) tickPump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-p.feed.Ticks():
			if !ok {
				logger.Infof("tick feed closed")
				return nil
			}
			if err := p.engine.Emit(engine.EvtTick, engine.TickPayload{Tick: tick}); err != nil {
				return err
			}
		}
	}
}

func (p *pumps) timerPump(ctx context.Context) error {
	sweep := time.NewTicker(sweepInterval)
	eod := time.NewTicker(eodInterval)
	vix := time.NewTicker(vixPollInterval)
	defer sweep.Stop()
	defer eod.Stop()
	defer vix.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := p.engine.Emit(engine.EvtBarSweep, struct{}{}); err != nil {
				return err
			}
		case <-eod.C:
			if err := p.engine.Emit(engine.EvtEODCheck, struct{}{}); err != nil {
				return err
			}
		case <-vix.C:
			v := p.feed.VIX()
			if v <= 0 {
				continue
			}
			payload := engine.VIXSamplePayload{VIX: v, At: time.Now()}
			if err := p.engine.Emit(engine.EvtVIXSample, payload); err != nil {
				return err
			}
		}
	}
}

func (p *pumps) tokenPump(ctx context.Context) {
	watch := broker.NewTokenWatch(
		p.validator,
		time.Duration(p.cfg.Broker.TokenCheckSec)*time.Second,
		func(err error) {
			payload := engine.TokenInvalidPayload{Detail: err.Error()}
			if emitErr := p.engine.Emit(engine.EvtTokenInvalid, payload); emitErr != nil {
				logger.Errorf("token invalid emit failed: %v", emitErr)
			}
		},
	)
	watch.Run(ctx)
}
