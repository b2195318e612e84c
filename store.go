package possession

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventKind identifies the kind of session transition being notified.
type EventKind int

const (
	// SessionStarted is sent after Set installs a new bundle.
	SessionStarted EventKind = iota
	// TokenRefreshed is sent after SetAccessToken replaces the access token.
	TokenRefreshed
	// SessionCleared is sent when the store becomes anonymous.
	SessionCleared
)

func (k EventKind) String() string {
	switch k {
	case SessionStarted:
		return "started"
	case TokenRefreshed:
		return "refreshed"
	case SessionCleared:
		return "cleared"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes one store transition. Bundle is the state after the transition
// and is the zero value for SessionCleared.
type Event struct {
	Kind   EventKind
	Bundle Bundle
}

// Persister keeps a copy of the bundle outside the process.
type Persister interface {
	// Load returns the persisted bundle, or nil, nil if there is none.
	Load() (*Bundle, error)

	// Save replaces the persisted bundle.
	Save(b *Bundle) error

	// Remove deletes the persisted bundle. Removing a missing bundle is not an error.
	Remove() error
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithPersister mirrors every mutation into p.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) {
		s.persister = p
	}
}

// WithStoreLogger sets the logger used for persistence failures and transitions.
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is the single source of truth for the session credentials.
// All mutation goes through its methods; readers only ever see a complete
// bundle or nothing.
type Store struct {
	// notifyMu is taken before mu by every mutation and held until its
	// subscribers have run, so events are delivered in transition order.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	bundle    *Bundle
	persister Persister
	logger    zerolog.Logger

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewStore creates an anonymous store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: log.Logger,
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted bundle, if any, without notifying subscribers.
// A persisted bundle that is not complete is discarded.
func (s *Store) Restore() error {
	if s.persister == nil {
		return nil
	}

	b, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b == nil {
		return nil
	}
	if !b.Complete() {
		s.logger.Warn().Msg("discarding incomplete persisted session")
		return s.persister.Remove()
	}
	s.bundle = b
	return nil
}

// Get returns a snapshot of the current bundle and whether the session is authenticated.
func (s *Store) Get() (Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.bundle == nil {
		return Bundle{}, false
	}
	return *s.bundle, true
}

// IsAuthenticated returns true if the store holds a bundle
func (s *Store) IsAuthenticated() bool {
	_, ok := s.Get()
	return ok
}

// Set installs a full bundle, as done once at login.
func (s *Store) Set(b Bundle) error {
	if !b.Complete() {
		return ErrIncompleteBundle
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	next := b
	s.bundle = &next
	s.persist(&next)
	s.mu.Unlock()

	s.logger.Info().
		Str("restaurant_id", b.Identity.RestaurantID).
		Str("user_id", b.Identity.UserID).
		Msg("session started")
	s.notify(Event{Kind: SessionStarted, Bundle: b})
	return nil
}

// SetAccessToken replaces only the access token. It returns false, and does
// nothing, if the store is anonymous or the token is empty.
func (s *Store) SetAccessToken(token string) bool {
	if token == "" {
		return false
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.bundle == nil {
		s.mu.Unlock()
		return false
	}
	next := *s.bundle
	next.AccessToken = token
	s.bundle = &next
	s.persist(&next)
	s.mu.Unlock()

	s.notify(Event{Kind: TokenRefreshed, Bundle: next})
	return true
}

// Clear wipes the bundle. It is idempotent; only the call that actually
// transitions the store to anonymous notifies subscribers. It returns true
// for that call.
func (s *Store) Clear() bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.bundle == nil {
		s.mu.Unlock()
		return false
	}
	s.bundle = nil
	if s.persister != nil {
		if err := s.persister.Remove(); err != nil {
			s.logger.Error().Err(err).Msg("failed to remove persisted session")
		}
	}
	s.mu.Unlock()

	s.logger.Info().Msg("session cleared")
	s.notify(Event{Kind: SessionCleared})
	return true
}

// Subscribe registers fn to be called after every transition. Callbacks run
// synchronously on the goroutine that mutated the store, one transition at a
// time and in the order the transitions happened. A callback may read the
// store but must not mutate it. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Caller must hold s.mu
func (s *Store) persist(b *Bundle) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(b); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist session")
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
