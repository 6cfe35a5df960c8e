package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MANAGER - Entry gating and loss circuit breakers
// ═══════════════════════════════════════════════════════════════════════════════
//
// One coarse lock over all state. Pauses lift themselves when their
// deadline passes; callers only ever ask CanTrade.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Limits configures the circuit breakers
type Limits struct {
	MaxConsecutiveLosses int
	CooldownAfterLoss    time.Duration
	MaxDailyLoss         decimal.Decimal
	MaxTotalExposure     decimal.Decimal
}

// Manager gates entries and tracks daily performance
type Manager struct {
	limits Limits

	mu                sync.Mutex
	consecutiveLosses int
	dailyPnL          decimal.Decimal
	lastLossAt        time.Time
	paused            bool
	pauseReason       string
	pauseUntil        time.Time

	now func() time.Time
}

// NewManager creates a risk manager with the given limits
func NewManager(limits Limits) *Manager {
	return &Manager{
		limits: limits,
		now:    time.Now,
	}
}

// CanTrade reports whether entries are allowed. An expired pause lifts
// here, on read.
func (m *Manager) CanTrade() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.paused {
		return true, ""
	}
	if !m.now().Before(m.pauseUntil) {
		log.Info().Str("reason", m.pauseReason).Msg("✅ Risk pause lifted")
		m.paused = false
		m.pauseReason = ""
		return true, ""
	}
	return false, m.pauseReason
}

// CanIncreaseExposure reports whether adding proposed to the current open
// exposure stays within the cap.
func (m *Manager) CanIncreaseExposure(current, proposed decimal.Decimal) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current.Add(proposed).GreaterThan(m.limits.MaxTotalExposure) {
		return false, fmt.Sprintf("exposure cap: %s + %s > %s",
			current.StringFixed(2), proposed.StringFixed(2),
			m.limits.MaxTotalExposure.StringFixed(2))
	}
	return true, ""
}

// RecordTrade ingests one closed trade's realized P&L and trips the
// breakers when limits are hit.
func (m *Manager) RecordTrade(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL = m.dailyPnL.Add(pnl)

	if pnl.IsNegative() {
		m.consecutiveLosses++
		m.lastLossAt = m.now()

		if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
			m.pause(fmt.Sprintf("%d consecutive losses", m.consecutiveLosses), m.limits.CooldownAfterLoss)
		}
	} else {
		m.consecutiveLosses = 0
	}

	if m.dailyPnL.LessThanOrEqual(m.limits.MaxDailyLoss.Neg()) {
		m.pause(fmt.Sprintf("daily loss %s", m.dailyPnL.StringFixed(2)), 24*time.Hour)
	}
}

// pause trips a breaker. Caller holds the lock. A longer existing pause
// is not shortened.
func (m *Manager) pause(reason string, d time.Duration) {
	until := m.now().Add(d)
	if m.paused && m.pauseUntil.After(until) {
		return
	}
	m.paused = true
	m.pauseReason = reason
	m.pauseUntil = until
	log.Warn().
		Str("reason", reason).
		Time("until", until).
		Msg("🚨 Risk pause tripped")
}

// ResetDaily clears the daily counters at the day boundary. Consecutive
// losses survive the reset; a losing streak does not end at midnight.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL = decimal.Zero
	log.Info().Msg("Daily risk counters reset")
}

// State returns a copy of the current risk state
func (m *Manager) State() types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return types.RiskState{
		ConsecutiveLosses: m.consecutiveLosses,
		DailyPnL:          m.dailyPnL,
		LastLossAt:        m.lastLossAt,
		Paused:            m.paused,
		PauseReason:       m.pauseReason,
		PauseUntil:        m.pauseUntil,
	}
}

// Restore seeds state from persisted values at startup
func (m *Manager) Restore(state types.RiskState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveLosses = state.ConsecutiveLosses
	m.dailyPnL = state.DailyPnL
	m.lastLossAt = state.LastLossAt
	m.paused = state.Paused
	m.pauseReason = state.PauseReason
	m.pauseUntil = state.PauseUntil
}
