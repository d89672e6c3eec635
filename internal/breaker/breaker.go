// Package breaker implements the market circuit breaker: a latch that stops
// new entries and forces positions out when VIX spikes or the daily loss
// limit is hit, and re-arms only after conditions stay calm for a sustained
// window.
package breaker

import (
	"time"

	"optexec/internal/config"
	"optexec/internal/logger"
)

// Trip names why the breaker fired.
type Trip string

const (
	TripVIXAbsolute Trip = "VIX_ABSOLUTE"
	TripVIXDelta    Trip = "VIX_DELTA"
	TripDailyLoss   Trip = "DAILY_LOSS"
)

type sample struct {
	at  time.Time
	vix float64
}

// Manager evaluates VIX samples and daily PnL against the configured
// thresholds. It is owned by the engine goroutine.
type Manager struct {
	cfg config.VIX

	dailyLossLimit float64

	active     bool
	trip       Trip
	trippedAt  time.Time
	calmSince  time.Time
	window     []sample
	lastSample sample
}

func NewManager(vix config.VIX, dailyLossLimitPct float64) *Manager {
	return &Manager{cfg: vix, dailyLossLimit: dailyLossLimitPct}
}

// Active reports whether entries are blocked.
func (m *Manager) Active() bool { return m.active }

// TrippedBy names the active trip reason, empty when inactive.
func (m *Manager) TrippedBy() Trip {
	if !m.active {
		return ""
	}
	return m.trip
}

// LastVIX is the most recent sample, 0 before the first one.
func (m *Manager) LastVIX() float64 { return m.lastSample.vix }

// OnVIX ingests one VIX sample. Returns true when this sample flips the
// breaker state (either direction).
func (m *Manager) OnVIX(vix float64, now time.Time) bool {
	m.lastSample = sample{at: now, vix: vix}
	m.pushSample(vix, now)

	if !m.active {
		if trip, hit := m.vixBreach(vix, now); hit {
			m.tripBreaker(trip, now)
			return true
		}
		return false
	}
	// Daily-loss trips never auto-resume; only a VIX trip can calm down.
	if m.trip == TripDailyLoss {
		return false
	}
	return m.tryResume(vix, now)
}

// OnDailyLoss latches the breaker when realized daily loss reaches the
// limit. lossPct is negative when losing.
func (m *Manager) OnDailyLoss(lossPct float64, now time.Time) bool {
	if m.active || lossPct > -m.dailyLossLimit {
		return false
	}
	m.tripBreaker(TripDailyLoss, now)
	return true
}

func (m *Manager) vixBreach(vix float64, now time.Time) (Trip, bool) {
	if vix >= m.cfg.SpikeAbsolute {
		return TripVIXAbsolute, true
	}
	// Delta breach: rise of SpikeDelta or more within the spike window.
	cutoff := now.Add(-time.Duration(m.cfg.SpikeWindowMin) * time.Minute)
	for _, s := range m.window {
		if s.at.Before(cutoff) {
			continue
		}
		if vix-s.vix >= m.cfg.SpikeDelta {
			return TripVIXDelta, true
		}
	}
	return "", false
}

func (m *Manager) tripBreaker(trip Trip, now time.Time) {
	m.active = true
	m.trip = trip
	m.trippedAt = now
	m.calmSince = time.Time{}
	logger.Warnf("circuit breaker tripped: %s (vix=%.2f)", trip, m.lastSample.vix)
}

// tryResume re-arms only after VIX has stayed below the resume threshold for
// the full resume window. Any sample at or above the threshold restarts it.
func (m *Manager) tryResume(vix float64, now time.Time) bool {
	if vix >= m.cfg.ResumeThreshold {
		m.calmSince = time.Time{}
		return false
	}
	if m.calmSince.IsZero() {
		m.calmSince = now
		return false
	}
	if now.Sub(m.calmSince) < time.Duration(m.cfg.ResumeWindowMin)*time.Minute {
		return false
	}
	m.active = false
	m.trip = ""
	m.calmSince = time.Time{}
	logger.Infof("circuit breaker resumed: vix=%.2f held below %.2f for %dm",
		vix, m.cfg.ResumeThreshold, m.cfg.ResumeWindowMin)
	return true
}

func (m *Manager) pushSample(vix float64, now time.Time) {
	m.window = append(m.window, sample{at: now, vix: vix})
	// Keep twice the spike window so delta checks always have coverage.
	cutoff := now.Add(-2 * time.Duration(m.cfg.SpikeWindowMin) * time.Minute)
	i := 0
	for ; i < len(m.window); i++ {
		if !m.window[i].at.Before(cutoff) {
			break
		}
	}
	m.window = m.window[i:]
}

// ResetDay clears a daily-loss latch at the start of a new session. VIX
// trips persist across the reset if conditions still warrant them.
func (m *Manager) ResetDay() {
	if m.active && m.trip == TripDailyLoss {
		m.active = false
		m.trip = ""
	}
	m.window = nil
	m.calmSince = time.Time{}
}
