package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/panyam/possession"
	"github.com/rs/zerolog"
)

// EventKind is an application lifecycle or interaction signal
type EventKind int

const (
	// Interaction is any user input: a tap, key press, or scan.
	Interaction EventKind = iota
	// Foreground means the application became visible.
	Foreground
	// Background means the application left the screen.
	Background
)

func (k EventKind) String() string {
	switch k {
	case Interaction:
		return "interaction"
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ParseEventKind maps a name such as "tap" or "background" to its kind.
func ParseEventKind(name string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "interaction", "tap", "touch", "key":
		return Interaction, nil
	case "foreground", "fg", "active":
		return Foreground, nil
	case "background", "bg", "inactive":
		return Background, nil
	}
	return 0, fmt.Errorf("unknown activity event %q", name)
}

// Event is delivered by the host environment
type Event struct {
	Kind EventKind
}

// Guard wires a Monitor and a GraceTimer to a store and to the host's event
// stream. Timers run only while the session is authenticated, and a clear
// from any path cancels both.
type Guard struct {
	store       *possession.Store
	monitor     *Monitor
	grace       *GraceTimer
	logger      zerolog.Logger
	unsubscribe func()
}

// NewGuard creates a guard over store. If the store already holds a session
// the inactivity countdown starts immediately.
func NewGuard(store *possession.Store, opts ...Option) *Guard {
	s := newSettings(opts)
	g := &Guard{
		store:   store,
		monitor: NewMonitor(store, opts...),
		grace:   NewGraceTimer(store, opts...),
		logger:  s.logger,
	}
	g.unsubscribe = store.Subscribe(g.onSessionEvent)
	if store.IsAuthenticated() {
		g.monitor.Reset()
	}
	return g
}

// Monitor returns the inactivity monitor
func (g *Guard) Monitor() *Monitor {
	return g.monitor
}

// Grace returns the background grace timer
func (g *Guard) Grace() *GraceTimer {
	return g.grace
}

// Handle applies one event. Events are ignored while the session is anonymous.
func (g *Guard) Handle(ev Event) {
	if !g.store.IsAuthenticated() {
		return
	}

	switch ev.Kind {
	case Interaction:
		g.monitor.Reset()
	case Foreground:
		if g.grace.Foreground() {
			g.logger.Debug().Msg("returned to foreground within grace period")
		}
		g.monitor.Reset()
	case Background:
		g.grace.Background()
	default:
		g.logger.Warn().Stringer("kind", ev.Kind).Msg("ignoring unknown activity event")
	}
}

// Run handles events until ctx is done or events is closed.
func (g *Guard) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			g.Handle(ev)
		}
	}
}

// Close detaches from the store and cancels both timers.
func (g *Guard) Close() {
	g.unsubscribe()
	g.monitor.Stop()
	g.grace.Stop()
}

func (g *Guard) onSessionEvent(ev possession.Event) {
	switch ev.Kind {
	case possession.SessionStarted:
		g.grace.Stop()
		g.monitor.Reset()
	case possession.SessionCleared:
		g.monitor.Stop()
		g.grace.Stop()
	}
}
