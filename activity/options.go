package activity

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Default timeouts
const (
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultGracePeriod       = time.Minute
)

type settings struct {
	clock             clockwork.Clock
	logger            zerolog.Logger
	inactivityTimeout time.Duration
	gracePeriod       time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:             clockwork.NewRealClock(),
		logger:            log.Logger,
		inactivityTimeout: DefaultInactivityTimeout,
		gracePeriod:       DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a Monitor, GraceTimer or Guard
type Option func(*settings)

// WithClock sets the clock the timers run on.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithInactivityTimeout sets how long the session may go without interaction.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.inactivityTimeout = d
		}
	}
}

// WithGracePeriod sets how long a backgrounded session survives.
func WithGracePeriod(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}
