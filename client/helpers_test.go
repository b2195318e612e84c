package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/panyam/possession"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

func makeToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func testIdentity() possession.Identity {
	return possession.Identity{
		RestaurantID:   "r-42",
		RestaurantName: "Blue Door Bistro",
		UserID:         "u-7",
	}
}

func newStore(t *testing.T, b *possession.Bundle) *possession.Store {
	t.Helper()
	s := possession.NewStore(possession.WithStoreLogger(zerolog.Nop()))
	if b != nil {
		require.NoError(t, s.Set(*b))
	}
	return s
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func response(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

// seen is what the fake network received for one transmission
type seen struct {
	Header http.Header
	Body   string
}

// fakeNetwork records transmissions and answers with handler
type fakeNetwork struct {
	mu      sync.Mutex
	sent    []seen
	handler func(r *http.Request, n int) (*http.Response, error)
}

func (f *fakeNetwork) RoundTrip(r *http.Request) (*http.Response, error) {
	var body string
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}
	f.mu.Lock()
	n := len(f.sent)
	f.sent = append(f.sent, seen{Header: r.Header.Clone(), Body: body})
	f.mu.Unlock()
	return f.handler(r, n)
}

func (f *fakeNetwork) transmissions() []seen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seen(nil), f.sent...)
}

// acceptToken answers 200 only when the bearer matches token
func acceptToken(token string) func(r *http.Request, n int) (*http.Response, error) {
	return func(r *http.Request, n int) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer "+token {
			return response(r, http.StatusOK, `{"ok":true}`), nil
		}
		return response(r, http.StatusUnauthorized, `{"error":"invalid_token"}`), nil
	}
}

// refreshStub counts refresh calls and optionally blocks until released
type refreshStub struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func (s *refreshStub) fn(ctx context.Context, refreshToken string) (string, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	return s.token, s.err
}

func newChain(t *testing.T, store *possession.Store, net http.RoundTripper, refresh RefreshTokenFunc, opts ...Option) (*Authenticator, Doer) {
	t.Helper()
	opts = append([]Option{
		WithClock(clockwork.NewFakeClockAt(testNow)),
		WithLogger(zerolog.Nop()),
	}, opts...)
	auth := NewAuthenticator(store, refresh, opts...)
	return auth, Chain(Send(net), auth.Interceptors()...)
}

func get(t *testing.T, url string) *Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return NewRequest(req)
}
