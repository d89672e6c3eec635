package barclock

import "time"

var ist = time.FixedZone("IST", 5*3600+30*60)

// Timeframe is a bar duration understood by the clock.
type Timeframe string

const (
	OneMinute     Timeframe = "1m"
	FiveMinute    Timeframe = "5m"
	FifteenMinute Timeframe = "15m"
	OneHour       Timeframe = "1h"
	OneDay        Timeframe = "1d"
)

// Boundary truncates t to the open time of the bar containing it, evaluated
// in exchange-local (IST) time so hourly and daily bars line up with the
// session rather than UTC.
func (tf Timeframe) Boundary(t time.Time) time.Time {
	local := t.In(ist)
	y, m, d := local.Date()
	switch tf {
	case OneMinute:
		return time.Date(y, m, d, local.Hour(), local.Minute(), 0, 0, ist)
	case FiveMinute:
		return time.Date(y, m, d, local.Hour(), (local.Minute()/5)*5, 0, 0, ist)
	case FifteenMinute:
		return time.Date(y, m, d, local.Hour(), (local.Minute()/15)*15, 0, 0, ist)
	case OneHour:
		return time.Date(y, m, d, local.Hour(), 0, 0, 0, ist)
	case OneDay:
		return time.Date(y, m, d, 0, 0, 0, 0, ist)
	default:
		return time.Date(y, m, d, local.Hour(), local.Minute(), 0, 0, ist)
	}
}

// Duration returns the bar length.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case OneMinute:
		return time.Minute
	case FiveMinute:
		return 5 * time.Minute
	case FifteenMinute:
		return 15 * time.Minute
	case OneHour:
		return time.Hour
	case OneDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
