// Package barclock turns the raw tick stream into completed OHLCV bars.
// It is pure bookkeeping over accumulated ticks and wall time; no trading
// logic lives here.
package barclock

import (
	"sync"
	"time"

	"optexec/internal/logger"
	"optexec/internal/types"
)

// partialBar accumulates ticks for the bar currently forming.
type partialBar struct {
	openTime  time.Time
	open      float64
	high      float64
	low       float64
	close     float64
	volume    int64
	tickCount int
}

func newPartialBar(openTime time.Time, price float64, volume int64) *partialBar {
	return &partialBar{
		openTime:  openTime,
		open:      price,
		high:      price,
		low:       price,
		close:     price,
		volume:    volume,
		tickCount: 1,
	}
}

func (p *partialBar) update(price float64, volume int64) {
	p.close = price
	if price > p.high {
		p.high = price
	}
	if price < p.low {
		p.low = price
	}
	p.volume += volume
	p.tickCount++
}

func (p *partialBar) toBar(symbol string, tf Timeframe) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timeframe: string(tf),
		OpenTime:  p.openTime,
		Open:      p.open,
		High:      p.high,
		Low:       p.low,
		Close:     p.close,
		Volume:    p.volume,
	}
}

// Delay reports a bar boundary that passed with no ticks for longer than the
// grace period. A data-quality signal, never a trading trigger.
type Delay struct {
	Symbol    string
	Timeframe Timeframe
	OpenTime  time.Time
	Silence   time.Duration
}

// Aggregator builds bars for one (symbol, timeframe) pair.
type Aggregator struct {
	symbol    string
	timeframe Timeframe
	grace     time.Duration

	mu           sync.Mutex
	current      *partialBar
	lastTickAt   time.Time
	lastEmitted  time.Time
	lastDelayed  time.Time
}

// NewAggregator creates an aggregator. grace bounds how long a silent
// boundary crossing waits before being flagged as delayed.
func NewAggregator(symbol string, tf Timeframe, grace time.Duration) *Aggregator {
	return &Aggregator{symbol: symbol, timeframe: tf, grace: grace}
}

// Apply folds one tick in. When the tick lands past the current bar's
// boundary the finished bar is returned; the idempotency guard drops bars
// whose open time was already emitted (late or replayed ticks).
func (a *Aggregator) Apply(tick types.Tick) (types.Bar, bool) {
	boundary := a.timeframe.Boundary(tick.Timestamp)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTickAt = tick.Timestamp

	if a.current == nil {
		a.current = newPartialBar(boundary, tick.LTP, tick.Volume)
		return types.Bar{}, false
	}
	if boundary.Equal(a.current.openTime) {
		a.current.update(tick.LTP, tick.Volume)
		return types.Bar{}, false
	}
	if boundary.Before(a.current.openTime) {
		// Late tick for an already-finalized bar.
		logger.Debugf("barclock %s/%s: dropping late tick at %s", a.symbol, a.timeframe, tick.Timestamp)
		return types.Bar{}, false
	}

	done := a.current.toBar(a.symbol, a.timeframe)
	a.current = newPartialBar(boundary, tick.LTP, tick.Volume)

	if !done.OpenTime.After(a.lastEmitted) && !a.lastEmitted.IsZero() {
		logger.Warnf("barclock %s/%s: bar %s already emitted, suppressing", a.symbol, a.timeframe, done.OpenTime)
		return types.Bar{}, false
	}
	if !done.Valid() {
		logger.Warnf("barclock %s/%s: invalid bar at %s dropped", a.symbol, a.timeframe, done.OpenTime)
		return types.Bar{}, false
	}
	a.lastEmitted = done.OpenTime
	return done, true
}

// CheckDelayed reports whether the current boundary has been crossed with no
// buffered tick for longer than the grace period. Each silent boundary is
// reported once.
func (a *Aggregator) CheckDelayed(now time.Time) (Delay, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastTickAt.IsZero() {
		return Delay{}, false
	}
	boundary := a.timeframe.Boundary(now)
	if a.current != nil && boundary.Equal(a.current.openTime) {
		return Delay{}, false
	}
	silence := now.Sub(a.lastTickAt)
	if silence < a.grace {
		return Delay{}, false
	}
	if a.lastDelayed.Equal(boundary) {
		return Delay{}, false
	}
	a.lastDelayed = boundary
	return Delay{
		Symbol:    a.symbol,
		Timeframe: a.timeframe,
		OpenTime:  boundary,
		Silence:   silence,
	}, true
}

// Clock fans ticks out to per-symbol aggregators across timeframes.
type Clock struct {
	grace      time.Duration
	timeframes []Timeframe

	mu   sync.Mutex
	aggs map[string]*Aggregator // key: symbol + "|" + timeframe
}

// NewClock creates a clock producing bars for the given timeframes.
func NewClock(timeframes []Timeframe, grace time.Duration) *Clock {
	return &Clock{
		grace:      grace,
		timeframes: timeframes,
		aggs:       make(map[string]*Aggregator),
	}
}

func (c *Clock) aggregator(symbol string, tf Timeframe) *Aggregator {
	key := symbol + "|" + string(tf)
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.aggs[key]
	if !ok {
		agg = NewAggregator(symbol, tf, c.grace)
		c.aggs[key] = agg
	}
	return agg
}

// Apply folds a tick into every timeframe and returns the bars it completed.
func (c *Clock) Apply(tick types.Tick) []types.Bar {
	var done []types.Bar
	for _, tf := range c.timeframes {
		if bar, ok := c.aggregator(tick.Symbol, tf).Apply(tick); ok {
			done = append(done, bar)
		}
	}
	return done
}

// Sweep checks every aggregator for delayed bars.
func (c *Clock) Sweep(now time.Time) []Delay {
	c.mu.Lock()
	aggs := make([]*Aggregator, 0, len(c.aggs))
	for _, a := range c.aggs {
		aggs = append(aggs, a)
	}
	c.mu.Unlock()

	var delays []Delay
	for _, a := range aggs {
		if d, ok := a.CheckDelayed(now); ok {
			delays = append(delays, d)
		}
	}
	return delays
}
