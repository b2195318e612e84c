// Package activity ends sessions that have been left alone: after a period
// without user interaction, or after the application has stayed in the
// background past a grace period. Both run on an injected clock and clear the
// session store independently of any HTTP traffic.
package activity

import (
	"time"

	"github.com/panyam/possession"
	"github.com/rs/zerolog"
)

// Monitor clears the session when no interaction has been seen for the
// inactivity timeout. It is Idle until the first Reset.
type Monitor struct {
	store   *possession.Store
	timer   *oneShot
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMonitor creates an idle monitor for store.
func NewMonitor(store *possession.Store, opts ...Option) *Monitor {
	s := newSettings(opts)
	return &Monitor{
		store:   store,
		timer:   newOneShot(s.clock),
		timeout: s.inactivityTimeout,
		logger:  s.logger,
	}
}

// Reset discards the current countdown and starts a fresh one measured from now.
func (m *Monitor) Reset() {
	m.timer.arm(m.timeout, m.expire)
}

// Stop cancels the countdown and returns the monitor to Idle.
func (m *Monitor) Stop() {
	m.timer.stop()
}

// Armed reports whether a countdown is running.
func (m *Monitor) Armed() bool {
	_, pending := m.timer.state()
	return pending
}

// Deadline returns when the session will be cleared absent another Reset.
func (m *Monitor) Deadline() (time.Time, bool) {
	return m.timer.state()
}

// Timeout returns the configured inactivity timeout
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

func (m *Monitor) expire() {
	if m.store.Clear() {
		m.logger.Info().Dur("timeout", m.timeout).Msg("session cleared after inactivity")
	}
}
