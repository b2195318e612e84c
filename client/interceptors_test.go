package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panyam/possession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestInterceptor_AnonymousPassThrough(t *testing.T) {
	store := newStore(t, nil)
	net := &fakeNetwork{handler: func(r *http.Request, n int) (*http.Response, error) {
		return response(r, http.StatusOK, "{}"), nil
	}}
	stub := &refreshStub{token: "unused"}
	_, do := newChain(t, store, net, stub.fn)

	req := get(t, "http://pos.local/api/menu")
	resp, err := do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sent := net.transmissions()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Header.Get("Authorization"))
	assert.Empty(t, sent[0].Header.Get(possession.HeaderRestaurantID))
	assert.Empty(t, sent[0].Header.Get(possession.HeaderUserID))
	assert.Empty(t, sent[0].Header.Get(HeaderRequestID))
	assert.Equal(t, int32(0), stub.calls.Load())
	assert.Equal(t, testNow, req.StartedAt)
}

func TestRequestInterceptor_AttachesIdentityAndBearer(t *testing.T) {
	access := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: access, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(access)}
	stub := &refreshStub{token: "unused"}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.NoError(t, err)

	sent := net.transmissions()
	require.Len(t, sent, 1)
	h := sent[0].Header
	assert.Equal(t, "Bearer "+access, h.Get("Authorization"))
	assert.Equal(t, "r-42", h.Get(possession.HeaderRestaurantID))
	assert.Equal(t, "Blue Door Bistro", h.Get(possession.HeaderRestaurantName))
	assert.Equal(t, "u-7", h.Get(possession.HeaderUserID))
	assert.NotEmpty(t, h.Get(HeaderRequestID))
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestRequestInterceptor_ExpiredTokenRefreshedBeforeSending(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	resp, err := do(get(t, "http://pos.local/api/orders"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int32(1), stub.calls.Load())
	b, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, fresh, b.AccessToken)

	sent := net.transmissions()
	require.Len(t, sent, 1)
	assert.Equal(t, "Bearer "+fresh, sent[0].Header.Get("Authorization"))
}

func TestRequestInterceptor_ExpiryMargin(t *testing.T) {
	soon := makeToken(t, "u-7", testNow.Add(5*time.Second))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: soon, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn, WithExpiryMargin(10*time.Second))

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestRequestInterceptor_ExpiredWithoutRefreshToken(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	store := newStore(t, &possession.Bundle{AccessToken: expired, Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("anything")}
	stub := &refreshStub{token: "unused"}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.ErrorIs(t, err, possession.ErrNoRefreshToken)

	assert.Equal(t, int32(0), stub.calls.Load())
	assert.Empty(t, net.transmissions())
	assert.False(t, store.IsAuthenticated())
}

func TestRequestInterceptor_RefreshFailureClearsSession(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("anything")}
	boom := errors.New("refresh token revoked")
	stub := &refreshStub{err: boom}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.ErrorIs(t, err, possession.ErrRefreshFailed)
	require.ErrorIs(t, err, boom)

	assert.Empty(t, net.transmissions())
	assert.False(t, store.IsAuthenticated())
}

func TestRequestInterceptor_EmptyRefreshResultIsFailure(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("anything")}
	stub := &refreshStub{token: ""}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.ErrorIs(t, err, possession.ErrEmptyRefreshResult)
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_RetryAfterRejection(t *testing.T) {
	// Locally valid, but the server has revoked it
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	req := get(t, "http://pos.local/api/orders")
	resp, err := do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, req.Retried)

	assert.Equal(t, int32(1), stub.calls.Load())
	sent := net.transmissions()
	require.Len(t, sent, 2)
	assert.Equal(t, "Bearer "+stale, sent[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer "+fresh, sent[1].Header.Get("Authorization"))
	assert.Equal(t, sent[0].Header.Get(HeaderRequestID), sent[1].Header.Get(HeaderRequestID))

	b, _ := store.Get()
	assert.Equal(t, fresh, b.AccessToken)
}

func TestResponseInterceptor_SecondRejectionIsFinal(t *testing.T) {
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: func(r *http.Request, n int) (*http.Response, error) {
		return response(r, http.StatusUnauthorized, `{"error":"invalid_token"}`), nil
	}}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.True(t, httpErr.Request.Retried)
	assert.Contains(t, string(httpErr.Body), "invalid_token")

	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Len(t, net.transmissions(), 2)
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_RejectionWithoutRefreshToken(t *testing.T) {
	access := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: access, Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("other")}
	stub := &refreshStub{token: "unused"}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	assert.Equal(t, int32(0), stub.calls.Load())
	assert.Len(t, net.transmissions(), 1)
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_RefreshFailurePropagatesRefreshError(t *testing.T) {
	access := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: access, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("other")}
	boom := errors.New("refresh endpoint down")
	stub := &refreshStub{err: boom}
	_, do := newChain(t, store, net, stub.fn)

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, possession.ErrRefreshFailed)
	assert.Equal(t, 0, StatusCode(err), "the refresh error is reported, not the 401")

	assert.Len(t, net.transmissions(), 1)
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_UnrelatedFailures(t *testing.T) {
	access := makeToken(t, "u-7", testNow.Add(time.Hour))
	dialErr := errors.New("connection refused")

	tests := []struct {
		name        string
		handler     func(r *http.Request, n int) (*http.Response, error)
		clear       bool
		wantCleared bool
		check       func(t *testing.T, err error)
	}{
		{
			name: "server error clears by default",
			handler: func(r *http.Request, n int) (*http.Response, error) {
				return response(r, http.StatusInternalServerError, "oops"), nil
			},
			clear:       true,
			wantCleared: true,
			check: func(t *testing.T, err error) {
				assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
			},
		},
		{
			name: "network error clears by default",
			handler: func(r *http.Request, n int) (*http.Response, error) {
				return nil, dialErr
			},
			clear:       true,
			wantCleared: true,
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				require.ErrorAs(t, err, &netErr)
				assert.ErrorIs(t, err, dialErr)
			},
		},
		{
			name: "validation error kept when clearing disabled",
			handler: func(r *http.Request, n int) (*http.Response, error) {
				return response(r, http.StatusUnprocessableEntity, `{"error":"table occupied"}`), nil
			},
			clear:       false,
			wantCleared: false,
			check: func(t *testing.T, err error) {
				assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, &possession.Bundle{AccessToken: access, RefreshToken: "rt", Identity: testIdentity()})
			net := &fakeNetwork{handler: tt.handler}
			stub := &refreshStub{token: "unused"}
			_, do := newChain(t, store, net, stub.fn, WithClearOnUnrelatedFailure(tt.clear))

			_, err := do(get(t, "http://pos.local/api/tables"))
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, int32(0), stub.calls.Load())
			assert.Len(t, net.transmissions(), 1)
			assert.Equal(t, !tt.wantCleared, store.IsAuthenticated())
		})
	}
}

func TestResponseInterceptor_CustomAuthStatus(t *testing.T) {
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: func(r *http.Request, n int) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer "+fresh {
			return response(r, http.StatusOK, "{}"), nil
		}
		return response(r, http.StatusForbidden, "{}"), nil
	}}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn, WithAuthFailureStatus(http.StatusUnauthorized, http.StatusForbidden))

	_, err := do(get(t, "http://pos.local/api/orders"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestResponseInterceptor_ReplaysBody(t *testing.T) {
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	body := `{"table":4,"items":[{"food_id":"f1","qty":2}]}`
	httpReq, err := http.NewRequest(http.MethodPost, "http://pos.local/api/orders", strings.NewReader(body))
	require.NoError(t, err)

	_, err = do(NewRequest(httpReq))
	require.NoError(t, err)

	sent := net.transmissions()
	require.Len(t, sent, 2)
	assert.Equal(t, body, sent[0].Body)
	assert.Equal(t, body, sent[1].Body)
}

func TestResponseInterceptor_UnreplayableBody(t *testing.T) {
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	httpReq, err := http.NewRequest(http.MethodPost, "http://pos.local/api/orders", strings.NewReader("{}"))
	require.NoError(t, err)
	httpReq.GetBody = nil

	_, err = do(NewRequest(httpReq))
	require.ErrorIs(t, err, ErrNotReplayable)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Len(t, net.transmissions(), 1)
}

func TestConcurrentExpiredRequests_SingleRefresh(t *testing.T) {
	const n = 8
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = do(get(t, "http://pos.local/api/orders"))
		}(i)
	}

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == n }, time.Second, time.Millisecond)
	close(stub.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), stub.calls.Load())

	sent := net.transmissions()
	require.Len(t, sent, n)
	for _, s := range sent {
		assert.Equal(t, "Bearer "+fresh, s.Header.Get("Authorization"))
	}
}

func TestConcurrentRejectedRequests_SingleRefresh(t *testing.T) {
	const n = 6
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = do(get(t, "http://pos.local/api/orders"))
		}(i)
	}

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == n }, time.Second, time.Millisecond)
	close(stub.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Len(t, net.transmissions(), 2*n)
}

func TestConcurrentRefreshFailure_AllObserveIt(t *testing.T) {
	const n = 4
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken("never")}
	boom := errors.New("refresh token expired")
	stub := &refreshStub{err: boom, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = do(get(t, "http://pos.local/api/orders"))
		}(i)
	}

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == n }, time.Second, time.Millisecond)
	close(stub.release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Empty(t, net.transmissions())
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_RejectionAfterEarlyRefreshIsFinal(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: func(r *http.Request, n int) (*http.Response, error) {
		if n == 0 {
			return response(r, http.StatusUnauthorized, `{"error":"invalid_token"}`), nil
		}
		return response(r, http.StatusOK, "{}"), nil
	}}
	stub := &refreshStub{token: fresh}
	_, do := newChain(t, store, net, stub.fn)

	req := get(t, "http://pos.local/api/orders")
	_, err := do(req)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.True(t, req.Refreshed)
	assert.False(t, req.Retried)

	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Len(t, net.transmissions(), 1)
	assert.False(t, store.IsAuthenticated())
}

func TestRequestInterceptor_ClearDuringRefreshSendsNothing(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	done := make(chan error, 1)
	go func() {
		_, err := do(get(t, "http://pos.local/api/orders"))
		done <- err
	}()

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == 1 && stub.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.True(t, store.Clear())
	close(stub.release)

	require.ErrorIs(t, <-done, possession.ErrAnonymous)
	assert.Empty(t, net.transmissions())
	assert.False(t, store.IsAuthenticated())
}

func TestResponseInterceptor_ClearDuringRefreshSkipsReplay(t *testing.T) {
	stale := makeToken(t, "u-7", testNow.Add(time.Hour))
	fresh := makeToken(t, "u-8", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: stale, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	done := make(chan error, 1)
	go func() {
		_, err := do(get(t, "http://pos.local/api/orders"))
		done <- err
	}()

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == 1 && stub.calls.Load() == 1 }, time.Second, time.Millisecond)
	store.Clear()
	close(stub.release)

	require.ErrorIs(t, <-done, possession.ErrAnonymous)
	sent := net.transmissions()
	require.Len(t, sent, 1)
	assert.Equal(t, "Bearer "+stale, sent[0].Header.Get("Authorization"))
	assert.False(t, store.IsAuthenticated())
}

func TestRequestInterceptor_CancelledWaiterKeepsSession(t *testing.T) {
	expired := makeToken(t, "u-7", testNow.Add(-time.Minute))
	fresh := makeToken(t, "u-7", testNow.Add(time.Hour))
	store := newStore(t, &possession.Bundle{AccessToken: expired, RefreshToken: "rt", Identity: testIdentity()})
	net := &fakeNetwork{handler: acceptToken(fresh)}
	stub := &refreshStub{token: fresh, release: make(chan struct{})}
	auth, do := newChain(t, store, net, stub.fn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://pos.local/api/orders", nil)
	require.NoError(t, err)

	impatient := make(chan error, 1)
	go func() {
		_, err := do(NewRequest(httpReq))
		impatient <- err
	}()
	patient := make(chan error, 1)
	go func() {
		_, err := do(get(t, "http://pos.local/api/tables"))
		patient <- err
	}()

	require.Eventually(t, func() bool { return auth.Refresher().Waiting() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-impatient, context.Canceled)
	assert.True(t, store.IsAuthenticated())

	close(stub.release)
	require.NoError(t, <-patient)

	b, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, fresh, b.AccessToken)
	assert.Equal(t, int32(1), stub.calls.Load())
	assert.Len(t, net.transmissions(), 1)
}
