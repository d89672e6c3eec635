package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"optexec/internal/logger"
)

// TunableRisk is the hot-reloadable subset of RiskConfig. Only parameters
// that cannot widen open exposure are included; the retry ladder, loss limits
// and the ledger path stay fixed for the process lifetime.
type TunableRisk struct {
	TrailActivatePct float64
	TrailGapPct      float64
	TargetPct        float64
}

// ChangeListener is called with the new tunable subset after a reload.
type ChangeListener func(TunableRisk)

// Watcher re-reads the config file on FS events and publishes the tunable
// risk subset to subscribers.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  TunableRisk
	listeners []ChangeListener
}

// NewWatcher reads the config file and starts watching it for changes.
func NewWatcher(path string, initial TunableRisk) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config for watch failed: %w", err)
	}
	w := &Watcher{path: path, v: v, snapshot: initial}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

// Snapshot returns the current tunable values.
func (w *Watcher) Snapshot() TunableRisk {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe registers a listener for future reloads.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) reload() error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := decode(w.v)
	if err != nil {
		return err
	}
	cfg.applyDefaults()
	if err := validate(cfg); err != nil {
		return err
	}
	next := TunableRisk{
		TrailActivatePct: cfg.Risk.TrailActivatePct,
		TrailGapPct:      cfg.Risk.TrailGapPct,
		TargetPct:        cfg.Risk.TargetPct,
	}
	w.mu.Lock()
	prev := w.snapshot
	w.snapshot = next
	w.mu.Unlock()
	if prev != next {
		logger.Infof("risk tunables reloaded: trail_activate=%.4f trail_gap=%.4f target=%.4f",
			next.TrailActivatePct, next.TrailGapPct, next.TargetPct)
	}
	return nil
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
