package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panyam/possession"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RefreshTokenFunc exchanges a refresh token for a new access token.
// An empty token with a nil error means the backend issued nothing.
type RefreshTokenFunc func(ctx context.Context, refreshToken string) (string, error)

// Option configures an Authenticator
type Option func(*Authenticator)

// WithClock sets the clock used for expiry checks and latency measurement.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Authenticator) {
		a.clock = clock
	}
}

// WithLogger sets the logger for request and session logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithExpiryMargin treats access tokens as expired this long before their exp claim.
func WithExpiryMargin(margin time.Duration) Option {
	return func(a *Authenticator) {
		a.margin = margin
	}
}

// WithClearOnUnrelatedFailure controls whether request failures that are not
// authorization rejections also clear the session. Defaults to true.
func WithClearOnUnrelatedFailure(clear bool) Option {
	return func(a *Authenticator) {
		a.clearOnFailure = clear
	}
}

// WithAuthFailureStatus sets the HTTP statuses treated as a rejected access token.
// Defaults to 401 only.
func WithAuthFailureStatus(codes ...int) Option {
	return func(a *Authenticator) {
		a.authStatuses = make(map[int]bool, len(codes))
		for _, code := range codes {
			a.authStatuses[code] = true
		}
	}
}

// WithRefresher shares a Refresher between authenticators bound to the same store.
func WithRefresher(r *Refresher) Option {
	return func(a *Authenticator) {
		a.refresher = r
	}
}

// Authenticator owns the session side of every outgoing call: reading the
// store, keeping the access token fresh, and clearing the session when it
// cannot be recovered.
type Authenticator struct {
	store          *possession.Store
	refresh        RefreshTokenFunc
	refresher      *Refresher
	clock          clockwork.Clock
	logger         zerolog.Logger
	margin         time.Duration
	authStatuses   map[int]bool
	clearOnFailure bool
}

// NewAuthenticator creates an Authenticator over store that mints new access tokens with refresh.
func NewAuthenticator(store *possession.Store, refresh RefreshTokenFunc, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:          store,
		refresh:        refresh,
		clock:          clockwork.NewRealClock(),
		logger:         log.Logger,
		authStatuses:   map[int]bool{http.StatusUnauthorized: true},
		clearOnFailure: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.refresher == nil {
		a.refresher = &Refresher{}
	}
	return a
}

// Store returns the session store
func (a *Authenticator) Store() *possession.Store {
	return a.store
}

// Refresher returns the single-flight refresher
func (a *Authenticator) Refresher() *Refresher {
	return a.refresher
}

// Credentials returns the bundle to present on an outgoing call. If the access
// token is locally expired it is refreshed first and renewed is true. ok is
// false when the session is anonymous.
func (a *Authenticator) Credentials(ctx context.Context) (b possession.Bundle, ok, renewed bool, err error) {
	b, ok = a.store.Get()
	if !ok {
		return b, false, false, nil
	}

	if !possession.IsExpired(b.AccessToken, a.clock.Now(), a.margin) {
		return b, true, false, nil
	}

	a.logger.Debug().Msg("access token expired locally, refreshing")
	token, err := a.Renew(ctx)
	if err != nil {
		return b, true, false, err
	}
	b.AccessToken = token
	return b, true, true, nil
}

// Renew obtains a new access token through the single-flight refresher and
// stores it. Missing refresh tokens and refresh failures clear the session.
// If the session is cleared while the refresh is in flight the new token is
// dropped and every waiter gets ErrAnonymous.
func (a *Authenticator) Renew(ctx context.Context) (string, error) {
	b, ok := a.store.Get()
	if !ok {
		return "", possession.ErrAnonymous
	}
	if !b.HasRefreshToken() {
		a.clear("no refresh token")
		return "", possession.ErrNoRefreshToken
	}

	return a.refresher.Run(ctx, func(ctx context.Context) (string, error) {
		token, err := a.refresh(ctx, b.RefreshToken)
		if err == nil && token == "" {
			err = possession.ErrEmptyRefreshResult
		}
		if err != nil {
			a.logger.Warn().Err(err).Msg("token refresh failed")
			a.clear("refresh failed")
			return "", fmt.Errorf("%w: %w", possession.ErrRefreshFailed, err)
		}

		if !a.store.SetAccessToken(token) {
			a.logger.Info().Msg("session ended during refresh, discarding new token")
			return "", possession.ErrAnonymous
		}
		a.logger.Debug().Msg("access token refreshed")
		return token, nil
	})
}

// IsAuthFailure returns true if err is an HTTP rejection of the presented credentials.
func (a *Authenticator) IsAuthFailure(err error) bool {
	return a.authStatuses[StatusCode(err)]
}

func (a *Authenticator) clear(reason string) {
	if a.store.Clear() {
		a.logger.Info().Str("reason", reason).Msg("session terminated")
	}
}
