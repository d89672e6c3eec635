package config

import (
	"fmt"
	"time"
)

func validate(c *Config) error {
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Orders.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SessionConfig) validate() error {
	for key, val := range map[string]string{
		"session.entry_window_start": s.EntryWindowStart,
		"session.entry_window_end":   s.EntryWindowEnd,
		"session.eod_exit_time":      s.EODExitTime,
		"session.market_close_time":  s.MarketCloseTime,
	} {
		if _, err := time.Parse("15:04", val); err != nil {
			return fmt.Errorf("%s must be HH:MM, got %q", key, val)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be a fraction below 1, got %v", r.StopLossPct)
	}
	if r.TrailGapPct >= r.StopLossPct {
		return fmt.Errorf("risk.trail_gap_pct (%v) must be tighter than stop_loss_pct (%v)", r.TrailGapPct, r.StopLossPct)
	}
	if r.VIX.ResumeThreshold >= r.VIX.SpikeAbsolute {
		return fmt.Errorf("risk.vix.resume_threshold (%v) must be below spike_absolute (%v)", r.VIX.ResumeThreshold, r.VIX.SpikeAbsolute)
	}
	return nil
}

func (o *OrdersConfig) validate() error {
	if len(o.RetryStepsPct) != o.MaxAttempts {
		return fmt.Errorf("orders.retry_steps_pct needs %d entries, got %d", o.MaxAttempts, len(o.RetryStepsPct))
	}
	if len(o.RetryBackoffsSec) != o.MaxAttempts {
		return fmt.Errorf("orders.retry_backoffs_sec needs %d entries, got %d", o.MaxAttempts, len(o.RetryBackoffsSec))
	}
	for i := 1; i < len(o.RetryStepsPct); i++ {
		if o.RetryStepsPct[i] < o.RetryStepsPct[i-1] {
			return fmt.Errorf("orders.retry_steps_pct must be non-decreasing")
		}
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Mode {
	case "paper", "live":
		return nil
	default:
		return fmt.Errorf("broker.mode must be paper or live, got %q", b.Mode)
	}
}
