// Package session answers "can we trade right now" questions: trading days,
// market hours and the entry/EOD windows, all in exchange-local (IST) time.
package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"optexec/internal/config"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

// State of the market session at a point in time.
type State string

const (
	PreOpen    State = "PREOPEN"
	Open       State = "OPEN"
	Closed     State = "CLOSED"
	PostMarket State = "POST_MARKET"
)

// Clock evaluates session windows against a holiday calendar.
type Clock struct {
	entryStart time.Duration // offset from midnight IST
	entryEnd   time.Duration
	eodExit    time.Duration
	close      time.Duration
	holidays   map[string]struct{} // "2006-01-02" in IST
	sessionID  string
}

const (
	marketOpenOffset = 9*time.Hour + 15*time.Minute
)

// NewClock parses the configured HH:MM windows and loads the holiday file if
// one is configured.
func NewClock(cfg config.SessionConfig) (*Clock, error) {
	c := &Clock{holidays: make(map[string]struct{})}
	var err error
	if c.entryStart, err = parseOffset(cfg.EntryWindowStart); err != nil {
		return nil, fmt.Errorf("entry_window_start: %w", err)
	}
	if c.entryEnd, err = parseOffset(cfg.EntryWindowEnd); err != nil {
		return nil, fmt.Errorf("entry_window_end: %w", err)
	}
	if c.eodExit, err = parseOffset(cfg.EODExitTime); err != nil {
		return nil, fmt.Errorf("eod_exit_time: %w", err)
	}
	if c.close, err = parseOffset(cfg.MarketCloseTime); err != nil {
		return nil, fmt.Errorf("market_close_time: %w", err)
	}
	if cfg.HolidayFile != "" {
		if err := c.loadHolidays(cfg.HolidayFile); err != nil {
			return nil, err
		}
	}
	c.sessionID = time.Now().In(ist).Format("20060102")
	return c, nil
}

func parseOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

func (c *Clock) loadHolidays(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading holiday file failed (%s): %w", path, err)
	}
	var hf holidayFile
	if err := yaml.Unmarshal(raw, &hf); err != nil {
		return fmt.Errorf("parsing holiday file failed: %w", err)
	}
	for _, d := range hf.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("holiday %q is not YYYY-MM-DD: %w", d, err)
		}
		c.holidays[d] = struct{}{}
	}
	return nil
}

// SessionID identifies the current trading day; part of every idempotency key.
func (c *Clock) SessionID() string { return c.sessionID }

// DayID names the IST trading day t falls on.
func (c *Clock) DayID(t time.Time) string { return t.In(ist).Format("20060102") }

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	local := t.In(ist)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}

func (c *Clock) midnight(t time.Time) time.Time {
	local := t.In(ist)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ist)
}

// StateAt classifies t against market hours.
func (c *Clock) StateAt(t time.Time) State {
	if !c.IsTradingDay(t) {
		return Closed
	}
	mid := c.midnight(t)
	open := mid.Add(marketOpenOffset)
	closeAt := mid.Add(c.close)
	switch {
	case t.Before(open):
		return PreOpen
	case t.Before(closeAt):
		return Open
	default:
		return PostMarket
	}
}

// InEntryWindow reports whether new entries are permitted at t.
func (c *Clock) InEntryWindow(t time.Time) bool {
	if c.StateAt(t) != Open {
		return false
	}
	mid := c.midnight(t)
	return !t.Before(mid.Add(c.entryStart)) && t.Before(mid.Add(c.entryEnd))
}

// PastEODCutoff reports whether the mandatory EOD exit time has been reached.
func (c *Clock) PastEODCutoff(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return !t.Before(c.midnight(t).Add(c.eodExit))
}
