// Package fakebackend is an in-process stand-in for the POS REST backend.
// It issues short-lived HS256 access tokens and opaque refresh tokens, guards
// its API routes with bearer authentication, and exposes knobs to make
// tokens expire, get rejected, or fail to refresh.
package fakebackend

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/panyam/possession"
)

// Default token settings
const (
	DefaultAccessTTL = 15 * time.Minute
	tokenTypeAccess  = "access"
)

// Account is a staff login known to the backend
type Account struct {
	Password string
	Identity possession.Identity
}

// Option configures a Backend
type Option func(*Backend)

// WithAccessTTL sets how long issued access tokens live.
func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = ttl
	}
}

// WithNowFunc sets the backend's notion of the current time.
func WithNowFunc(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithSecret sets the HMAC signing key.
func WithSecret(secret string) Option {
	return func(b *Backend) {
		b.secret = []byte(secret)
	}
}

// WithAccount registers a login.
func WithAccount(username string, account Account) Option {
	return func(b *Backend) {
		b.accounts[username] = account
	}
}

// Backend is the fake POS server. It implements http.Handler.
type Backend struct {
	router    *mux.Router
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time

	mu            sync.Mutex
	accounts      map[string]Account
	refreshTokens map[string]string // refresh token -> username
	rejectNext    int
	refreshCalls  int
	refreshGate   chan struct{}
	orders        map[string][]Order // restaurant id -> orders
}

// New creates a backend with one demo account, "cashier" / "password123".
func New(opts ...Option) *Backend {
	b := &Backend{
		secret:        []byte("fake-backend-secret"),
		accessTTL:     DefaultAccessTTL,
		now:           time.Now,
		accounts:      make(map[string]Account),
		refreshTokens: make(map[string]string),
		orders:        make(map[string][]Order),
	}
	b.accounts["cashier"] = Account{
		Password: "password123",
		Identity: possession.Identity{
			RestaurantID:   "r-1",
			RestaurantName: "Demo Diner",
			UserID:         "u-1",
			UserName:       "cashier",
			Role:           "cashier",
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.router = b.routes()
	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// AccessToken signs an access token for username that expires at exp.
func (b *Backend) AccessToken(username string, exp time.Time) (string, error) {
	b.mu.Lock()
	account, ok := b.accounts[username]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown account %q", username)
	}

	claims := jwt.MapClaims{
		"sub":  account.Identity.UserID,
		"rid":  account.Identity.RestaurantID,
		"type": tokenTypeAccess,
		"iat":  b.now().Unix(),
		"exp":  exp.Unix(),
		"jti":  newOpaqueToken(8),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// IssueRefreshToken creates a refresh token for username.
func (b *Backend) IssueRefreshToken(username string) string {
	token := newOpaqueToken(32)
	b.mu.Lock()
	b.refreshTokens[token] = username
	b.mu.Unlock()
	return token
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshTokens = make(map[string]string)
}

// RejectNext makes the next n authenticated API calls fail with 401
// regardless of the token presented.
func (b *Backend) RejectNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectNext = n
}

// HoldRefresh blocks refresh calls until the returned function is called.
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.refreshGate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// RefreshCalls returns how many refresh requests the backend has received.
func (b *Backend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

func (b *Backend) consumeRejection() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rejectNext > 0 {
		b.rejectNext--
		return true
	}
	return false
}

// newOpaqueToken generates a cryptographically secure random token
func newOpaqueToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(buf)
}
