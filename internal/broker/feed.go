package broker

import (
	"bufio"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tidwall/gjson"

	"optexec/internal/logger"
	"optexec/internal/types"
)

// DialFunc opens one feed connection and blocks pumping ticks into out until
// the connection drops or ctx is cancelled. A nil return means a clean close.
type DialFunc func(ctx context.Context, symbols []string, out chan<- types.Tick) error

// Reconnecting keeps a feed connection alive, redialing with exponential
// backoff after every drop. The tick channel stays stable across reconnects.
type Reconnecting struct {
	dial   DialFunc
	ticks  chan types.Tick
	vix    atomic.Value // float64
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewReconnecting(dial DialFunc) *Reconnecting {
	r := &Reconnecting{
		dial:  dial,
		ticks: make(chan types.Tick, 256),
		done:  make(chan struct{}),
	}
	r.vix.Store(float64(0))
	return r
}

func (r *Reconnecting) Subscribe(ctx context.Context, symbols []string) error {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx, symbols)
	return nil
}

func (r *Reconnecting) run(ctx context.Context, symbols []string) {
	defer close(r.done)
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		start := time.Now()
		err := r.pumpOnce(ctx, symbols)
		if ctx.Err() != nil {
			return
		}
		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			b.Reset()
		}
		d := b.Duration()
		logger.Warnf("feed dropped (%v), reconnecting in %s", err, d)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// pumpOnce runs one connection to completion, forwarding its ticks onto the
// stable channel. INDIAVIX rows update the VIX value instead of flowing on.
func (r *Reconnecting) pumpOnce(ctx context.Context, symbols []string) error {
	conn := make(chan types.Tick, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.dial(ctx, symbols, conn)
		close(conn)
	}()
	for t := range conn {
		if t.Symbol == "INDIAVIX" {
			r.vix.Store(t.LTP)
			continue
		}
		select {
		case <-ctx.Done():
		case r.ticks <- t:
		}
	}
	return <-errCh
}

func (r *Reconnecting) Ticks() <-chan types.Tick { return r.ticks }

func (r *Reconnecting) VIX() float64 { return r.vix.Load().(float64) }

func (r *Reconnecting) Close() error {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
	})
	return nil
}

// Replay streams ticks from a JSONL capture file, used in paper mode. Each
// line is one tick object. VIX lines use symbol INDIAVIX.
type Replay struct {
	path  string
	speed float64 // 0 replays without pacing
	ticks chan types.Tick
	vix   atomic.Value
	stop  context.CancelFunc
	done  chan struct{}
}

func NewReplay(path string, speed float64) *Replay {
	r := &Replay{
		path:  path,
		speed: speed,
		ticks: make(chan types.Tick, 256),
		done:  make(chan struct{}),
	}
	r.vix.Store(float64(0))
	return r
}

func (r *Replay) Subscribe(ctx context.Context, symbols []string) error {
	ctx, r.stop = context.WithCancel(ctx)
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	go r.run(ctx, want)
	return nil
}

func (r *Replay) run(ctx context.Context, want map[string]bool) {
	defer close(r.done)
	defer close(r.ticks)
	f, err := os.Open(r.path)
	if err != nil {
		logger.Errorf("replay open: %v", err)
		return
	}
	defer f.Close()

	var prev time.Time
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		tick := parseTickLine(sc.Bytes())
		if tick.Symbol == "INDIAVIX" {
			r.vix.Store(tick.LTP)
			continue
		}
		if len(want) > 0 && !want[tick.Symbol] {
			continue
		}
		if r.speed > 0 && !prev.IsZero() && tick.Timestamp.After(prev) {
			wait := time.Duration(float64(tick.Timestamp.Sub(prev)) / r.speed)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		prev = tick.Timestamp
		select {
		case <-ctx.Done():
			return
		case r.ticks <- tick:
		}
	}
}

func parseTickLine(line []byte) types.Tick {
	row := gjson.ParseBytes(line)
	return types.Tick{
		Symbol:    row.Get("symbol").String(),
		Token:     row.Get("token").String(),
		LTP:       row.Get("ltp").Float(),
		Bid:       row.Get("bid").Float(),
		Ask:       row.Get("ask").Float(),
		Volume:    row.Get("volume").Int(),
		Timestamp: row.Get("timestamp").Time(),
	}
}

// ReplayDial adapts a capture file to the DialFunc shape so a Reconnecting
// feed can loop it: each "connection" is one full pass over the file,
// INDIAVIX rows included. Used for long soak runs against a finite capture.
func ReplayDial(path string, speed float64) DialFunc {
	return func(ctx context.Context, symbols []string, out chan<- types.Tick) error {
		want := make(map[string]bool, len(symbols))
		for _, s := range symbols {
			want[s] = true
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		var prev time.Time
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			tick := parseTickLine(sc.Bytes())
			if tick.Symbol != "INDIAVIX" && len(want) > 0 && !want[tick.Symbol] {
				continue
			}
			if speed > 0 && !prev.IsZero() && tick.Timestamp.After(prev) {
				wait := time.Duration(float64(tick.Timestamp.Sub(prev)) / speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
			prev = tick.Timestamp
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- tick:
			}
		}
		return sc.Err()
	}
}

func (r *Replay) Ticks() <-chan types.Tick { return r.ticks }

func (r *Replay) VIX() float64 { return r.vix.Load().(float64) }

func (r *Replay) Close() error {
	if r.stop != nil {
		r.stop()
		<-r.done
	}
	return nil
}
