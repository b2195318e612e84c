// Package kv keeps the session bundle in any scs.Store, such as the
// in-memory store or a shared key-value service.
package kv

import (
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/jonboulle/clockwork"
	"github.com/panyam/possession"
	"github.com/panyam/possession/stores"
)

// Defaults
const (
	DefaultKey = "possession:session"
	DefaultTTL = 30 * 24 * time.Hour
)

// Persister stores the session under a single key.
type Persister struct {
	store  scs.Store
	key    string
	ttl    time.Duration
	clock  clockwork.Clock
	sealer *stores.Sealer
}

// Option configures a Persister
type Option func(*Persister)

// WithKey sets the key the session is stored under
func WithKey(key string) Option {
	return func(p *Persister) {
		p.key = key
	}
}

// WithTTL sets how long a saved session stays retrievable
func WithTTL(ttl time.Duration) Option {
	return func(p *Persister) {
		p.ttl = ttl
	}
}

// WithClock sets the clock used to compute expiry
func WithClock(clock clockwork.Clock) Option {
	return func(p *Persister) {
		p.clock = clock
	}
}

// WithSealer encrypts the stored value
func WithSealer(s *stores.Sealer) Option {
	return func(p *Persister) {
		p.sealer = s
	}
}

// NewPersister creates a persister over store. A nil store means a fresh
// in-memory store.
func NewPersister(store scs.Store, opts ...Option) *Persister {
	if store == nil {
		store = memstore.New()
	}
	p := &Persister{
		store: store,
		key:   DefaultKey,
		ttl:   DefaultTTL,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load returns the stored session, or nil if none is stored or it expired.
func (p *Persister) Load() (*possession.Bundle, error) {
	data, found, err := p.store.Find(p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return stores.Decode(data, p.sealer)
}

// Save stores b with the configured TTL
func (p *Persister) Save(b *possession.Bundle) error {
	data, err := stores.Encode(b, p.sealer)
	if err != nil {
		return err
	}
	if err := p.store.Commit(p.key, data, p.clock.Now().Add(p.ttl)); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Remove deletes the stored session
func (p *Persister) Remove() error {
	if err := p.store.Delete(p.key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
