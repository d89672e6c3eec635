package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"optexec/internal/config"
	"optexec/internal/logger"
	"optexec/internal/types"
)

// Paper is an in-process broker for paper trading. Orders fill against the
// latest quote: a buy fills when the limit reaches the ask, a sell when it
// reaches the bid. Unmarketable orders stay working until cancelled.
type Paper struct {
	mu      sync.Mutex
	cfg     config.BrokerConfig
	balance float64
	quotes  map[string]types.QuoteSnapshot
	orders  map[string]*paperOrder
}

type paperOrder struct {
	id     string
	symbol string
	side   types.Side
	qty    int
	limit  float64
	state  OrderState
}

func NewPaper(cfg config.BrokerConfig, startingBalance float64) *Paper {
	return &Paper{
		cfg:     cfg,
		balance: startingBalance,
		quotes:  make(map[string]types.QuoteSnapshot),
		orders:  make(map[string]*paperOrder),
	}
}

// OnTick updates the quote book and re-tries working orders against the new
// quote. Wired to the market feed by the engine.
func (p *Paper) OnTick(t types.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[t.Symbol] = types.QuoteSnapshot{
		Symbol: t.Symbol,
		LTP:    t.LTP,
		Bid:    t.Bid,
		Ask:    t.Ask,
		At:     t.Timestamp,
	}
	for _, o := range p.orders {
		if o.state.Status == types.OrderStatusSubmitted && o.symbol == t.Symbol {
			p.tryFill(o, t.Timestamp)
		}
	}
}

func (p *Paper) tryFill(o *paperOrder, at time.Time) {
	q, ok := p.quotes[o.symbol]
	if !ok {
		return
	}
	var fill float64
	switch o.side {
	case types.SideBuy:
		if q.Ask > 0 && o.limit >= q.Ask {
			fill = q.Ask
		}
	case types.SideSell:
		if q.Bid > 0 && o.limit <= q.Bid {
			fill = q.Bid
		}
	}
	if fill <= 0 {
		return
	}
	o.state.Status = types.OrderStatusFilled
	o.state.FillPrice = fill
	o.state.FilledQty = o.qty
	o.state.UpdatedAt = at
	notional := fill * float64(o.qty)
	if o.side == types.SideBuy {
		p.balance -= notional
	} else {
		p.balance += notional
	}
	logger.Debugf("paper fill: %s %s qty=%d @ %.2f", o.side, o.symbol, o.qty, fill)
}

func (p *Paper) Submit(_ context.Context, intent types.OrderIntent, limitPrice float64) (SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := &paperOrder{
		id:     "paper-" + uuid.NewString(),
		symbol: intent.Symbol,
		side:   intent.Side,
		qty:    intent.Quantity,
		limit:  limitPrice,
	}
	o.state = OrderState{
		BrokerOrderID: o.id,
		Status:        types.OrderStatusSubmitted,
		UpdatedAt:     time.Now(),
	}
	p.orders[o.id] = o
	p.tryFill(o, time.Now())
	return SubmitResult{BrokerOrderID: o.id, Accepted: true}, nil
}

func (p *Paper) Status(_ context.Context, brokerOrderID string) (OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderState{}, fmt.Errorf("paper: unknown order %s", brokerOrderID)
	}
	return o.state, nil
}

func (p *Paper) Cancel(_ context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", brokerOrderID)
	}
	if o.state.Status.Terminal() {
		return fmt.Errorf("paper: order %s already %s", brokerOrderID, o.state.Status)
	}
	o.state.Status = types.OrderStatusCancelled
	o.state.UpdatedAt = time.Now()
	return nil
}

func (p *Paper) Quote(_ context.Context, symbol string) (types.QuoteSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[symbol]
	if !ok {
		return types.QuoteSnapshot{}, fmt.Errorf("paper: no quote for %s", symbol)
	}
	return q, nil
}

func (p *Paper) Balance(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) MarginRequired(_ context.Context, _ string, quantity int, price float64) (float64, error) {
	// Long options are fully paid: margin is the premium outlay.
	return price * float64(quantity), nil
}

// ValidateToken always succeeds for paper trading.
func (p *Paper) ValidateToken(context.Context) error { return nil }

// PaperResolver synthesizes option contracts without a scrip master. Expiry
// is the nearest weekly expiry (Thursday) at or after now.
type PaperResolver struct {
	cfg config.BrokerConfig
}

func NewPaperResolver(cfg config.BrokerConfig) *PaperResolver {
	return &PaperResolver{cfg: cfg}
}

func (r *PaperResolver) Resolve(_ context.Context, underlying string, strike int, direction types.Direction, now time.Time) (types.Instrument, error) {
	if direction != types.DirectionCE && direction != types.DirectionPE {
		return types.Instrument{}, fmt.Errorf("resolve: no contract for direction %s", direction)
	}
	expiry := nextWeeklyExpiry(now)
	symbol := fmt.Sprintf("%s%s%d%s",
		strings.ToUpper(underlying),
		strings.ToUpper(expiry.Format("02Jan06")),
		strike,
		direction,
	)
	return types.Instrument{
		Token:      symbol,
		Symbol:     symbol,
		Underlying: strings.ToUpper(underlying),
		Expiry:     expiry.Format("2006-01-02"),
		Strike:     float64(strike),
		LotSize:    r.cfg.LotSize(strings.ToUpper(underlying)),
		TickSize:   r.cfg.TickSize,
	}, nil
}

func (r *PaperResolver) DaysToExpiry(inst types.Instrument, now time.Time) int {
	exp, err := time.ParseInLocation("2006-01-02", inst.Expiry, now.Location())
	if err != nil {
		return 0
	}
	d := int(exp.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func nextWeeklyExpiry(now time.Time) time.Time {
	d := now
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
}
