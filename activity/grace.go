package activity

import (
	"sync"
	"time"

	"github.com/panyam/possession"
	"github.com/rs/zerolog"
)

// GraceTimer clears the session if the application stays in the background
// longer than the grace period.
type GraceTimer struct {
	mu     sync.Mutex
	store  *possession.Store
	timer  *oneShot
	period time.Duration
	logger zerolog.Logger
}

// NewGraceTimer creates a grace timer in the Foreground state.
func NewGraceTimer(store *possession.Store, opts ...Option) *GraceTimer {
	s := newSettings(opts)
	return &GraceTimer{
		store:  store,
		timer:  newOneShot(s.clock),
		period: s.gracePeriod,
		logger: s.logger,
	}
}

// Background schedules the delayed clear. A clear that is already pending
// keeps its original deadline.
func (g *GraceTimer) Background() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Pending() {
		return
	}
	g.timer.arm(g.period, g.expire)
}

// Foreground cancels a pending clear. It reports whether one was pending.
func (g *GraceTimer) Foreground() bool {
	return g.timer.stop()
}

// Stop cancels any pending clear.
func (g *GraceTimer) Stop() {
	g.timer.stop()
}

// Pending reports whether a clear is scheduled.
func (g *GraceTimer) Pending() bool {
	_, pending := g.timer.state()
	return pending
}

func (g *GraceTimer) expire() {
	if g.store.Clear() {
		g.logger.Info().Dur("grace", g.period).Msg("session cleared after background grace period")
	}
}
