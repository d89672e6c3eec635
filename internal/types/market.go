package types

import "time"

// Tick is a single quote update from the market data feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Token     string    `json:"token,omitempty"`
	LTP       float64   `json:"ltp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Spread returns the bid/ask spread as a fraction of LTP, or 0 when the
// quote is one-sided.
func (t Tick) Spread() float64 {
	if t.LTP <= 0 || t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / t.LTP
}

// Bar is one completed OHLCV candle. Immutable once emitted.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Valid reports whether the bar satisfies L <= O,C <= H and V >= 0.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close || b.Low > b.High {
		return false
	}
	if b.High < b.Open || b.High < b.Close {
		return false
	}
	return true
}

// IndicatorSnapshot holds the indicator values computed for one
// (symbol, timeframe) bar window. Superseded on each new bar, never mutated.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	BarTime   time.Time `json:"bar_time"`
	ADX       float64   `json:"adx"`
	PlusDI    float64   `json:"plus_di"`
	MinusDI   float64   `json:"minus_di"`
	RSI       float64   `json:"rsi"`
	EMA9      float64   `json:"ema9"`
	AvgVolume float64   `json:"avg_volume"`
}

// Direction is the daily trading direction for an underlying.
type Direction string

const (
	DirectionCE      Direction = "CE"
	DirectionPE      Direction = "PE"
	DirectionNoTrade Direction = "NO_TRADE"
)

// Instrument describes a tradeable contract from the instrument master.
type Instrument struct {
	Token      string  `json:"token"`
	Symbol     string  `json:"symbol"`
	Underlying string  `json:"underlying"`
	Expiry     string  `json:"expiry"`
	Strike     float64 `json:"strike"`
	LotSize    int     `json:"lot_size"`
	TickSize   float64 `json:"tick_size"`
}
