package app

import (
	"context"
	"fmt"
	"time"

	"optexec/internal/audit"
	"optexec/internal/barclock"
	"optexec/internal/breaker"
	"optexec/internal/broker"
	"optexec/internal/config"
	"optexec/internal/engine"
	"optexec/internal/executor"
	"optexec/internal/exitengine"
	"optexec/internal/logger"
	"optexec/internal/position"
	"optexec/internal/risk"
	"optexec/internal/session"
	"optexec/internal/store"
	"optexec/internal/strategy"
	httpapi "optexec/internal/transport/http"
	"optexec/internal/types"
)

const (
	apiCircuitThreshold = 5
	apiCircuitCooloff   = 30 * time.Second
	volumeDryRatio      = 0.5
	volumeDryWindow     = 15 * time.Minute
	seedBars            = 300
)

// build constructs the full dependency graph by hand. The graph is small
// enough that explicit wiring stays clearer than a DI generator.
func build(cfg *config.Config, cfgPath string) (*App, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sess, err := session.NewClock(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session clock: %w", err)
	}

	timeframes := []barclock.Timeframe{barclock.FiveMinute, barclock.OneHour, barclock.OneDay}
	clock := barclock.NewClock(timeframes, time.Duration(cfg.Bars.GraceSec)*time.Second)
	barStore := barclock.NewStore(seedBars)
	seedBarWindows(st, barStore, cfg.Strategy.SpotSymbol, timeframes)

	align := strategy.NewAlignmentEvaluator(cfg.Strategy.DailyADXThreshold, cfg.Strategy.HourlyADXThreshold)
	signals := strategy.NewGenerator(cfg.Strategy)
	gate := risk.NewGate(cfg.Risk, cfg.Broker)
	sizer := risk.NewSizer(cfg.Risk, cfg.Broker)

	stack, err := buildBroker(cfg)
	if err != nil {
		return nil, err
	}

	ledger := executor.NewLedger(st)
	exec := executor.New(stack.api, ledger, cfg.Orders, cfg.Broker.TickSize)
	positions := position.NewManager()
	exits := exitengine.NewPrioritizer(volumeDryRatio, volumeDryWindow)
	brk := breaker.NewManager(cfg.Risk.VIX, cfg.Risk.DailyLossLimitPct)
	auditLog := audit.NewLog(st)
	exec.OnSubmit(func(order types.Order, intent types.OrderIntent) {
		auditLog.Record(context.Background(), audit.EventOrderSubmitted, order.Symbol, map[string]any{
			"order_id":        order.OrderID,
			"broker_order_id": order.BrokerOrderID,
			"intent_id":       intent.IntentID,
			"attempt":         order.Attempt,
			"limit_price":     order.LimitPrice,
			"quantity":        order.Quantity,
			"side":            order.Side,
			"reason":          intent.Reason,
		})
	})

	eng := engine.New(engine.Deps{
		Cfg:       cfg,
		Session:   sess,
		Bars:      clock,
		BarStore:  barStore,
		Store:     st,
		Align:     align,
		Signals:   signals,
		Gate:      gate,
		Sizer:     sizer,
		Exec:      exec,
		Positions: positions,
		Exits:     exits,
		Breaker:   brk,
		API:       stack.api,
		Resolver:  stack.resolver,
		Audit:     auditLog,
		Paper:     stack.paper,
	})

	if cfgPath != "" {
		if err := watchTunables(cfgPath, cfg, eng); err != nil {
			logger.Warnf("risk hot reload disabled: %v", err)
		}
	}

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Engine: eng,
		Store:  st,
		Audit:  auditLog,
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:    cfg,
		engine: eng,
		st:     st,
		http:   httpSrv,
		pumps: &pumps{
			cfg:       cfg,
			engine:    eng,
			feed:      stack.feed,
			validator: stack.validator,
		},
	}, nil
}

// brokerStack bundles the mode-dependent broker pieces.
type brokerStack struct {
	api       broker.OrderAPI
	resolver  broker.InstrumentResolver
	feed      broker.MarketFeed
	validator broker.TokenValidator
	paper     *broker.Paper
}

func buildBroker(cfg *config.Config) (*brokerStack, error) {
	switch cfg.Broker.Mode {
	case "paper":
		paper := broker.NewPaper(cfg.Broker, cfg.Broker.StartingBalance)
		var resolver broker.InstrumentResolver
		if cfg.Broker.ScripMasterFile != "" {
			sm, err := broker.LoadScripMaster(cfg.Broker.ScripMasterFile)
			if err != nil {
				return nil, fmt.Errorf("scrip master: %w", err)
			}
			resolver = sm
		} else {
			resolver = broker.NewPaperResolver(cfg.Broker)
		}
		if cfg.Broker.ReplayFile == "" {
			return nil, fmt.Errorf("paper mode requires broker.replay_file")
		}
		var feed broker.MarketFeed
		if cfg.Broker.ReplayLoop {
			feed = broker.NewReconnecting(broker.ReplayDial(cfg.Broker.ReplayFile, cfg.Broker.ReplaySpeed))
		} else {
			feed = broker.NewReplay(cfg.Broker.ReplayFile, cfg.Broker.ReplaySpeed)
		}
		api := broker.NewGuarded(
			broker.NewRateLimited(paper, cfg.Broker.OrdersPerSecond, cfg.Broker.QuotesPerSecond),
			apiCircuitThreshold, apiCircuitCooloff,
		)
		return &brokerStack{
			api:       api,
			resolver:  resolver,
			feed:      feed,
			validator: paper,
			paper:     paper,
		}, nil
	case "live":
		// Live connectivity needs broker credentials and a session layer
		// that this build does not ship.
		return nil, fmt.Errorf("broker mode %q is not available in this build", cfg.Broker.Mode)
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}

// seedBarWindows backfills in-memory windows from persisted bars so a
// restart resumes indicator computation without waiting for warmup.
func seedBarWindows(st *store.Store, barStore *barclock.Store, symbol string, tfs []barclock.Timeframe) {
	ctx := context.Background()
	for _, tf := range tfs {
		bars, err := st.RecentBars(ctx, symbol, string(tf), seedBars)
		if err != nil {
			logger.Warnf("bar backfill %s/%s failed: %v", symbol, tf, err)
			continue
		}
		if len(bars) > 0 {
			barStore.Seed(symbol, string(tf), bars)
			logger.Infof("bar backfill: %s/%s seeded %d bars", symbol, tf, len(bars))
		}
	}
}

// watchTunables starts config hot reload and forwards changes to the loop.
func watchTunables(cfgPath string, cfg *config.Config, eng *engine.Engine) error {
	w, err := config.NewWatcher(cfgPath, config.TunableRisk{
		TrailActivatePct: cfg.Risk.TrailActivatePct,
		TrailGapPct:      cfg.Risk.TrailGapPct,
		TargetPct:        cfg.Risk.TargetPct,
	})
	if err != nil {
		return err
	}
	w.Subscribe(func(t config.TunableRisk) {
		if err := eng.Emit(engine.EvtRiskTunables, engine.RiskTunablesPayload{Tunables: t}); err != nil {
			logger.Errorf("tunables emit failed: %v", err)
		}
	})
	return nil
}
