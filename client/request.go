package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept on an HTTPError.
const maxErrorBody = 64 << 10

// ErrNotReplayable is returned when a request must be resent but its body cannot be rewound.
var ErrNotReplayable = errors.New("request body cannot be replayed")

// Request is one outgoing call as seen by the interceptors.
// The embedded *http.Request carries the mutable header map.
type Request struct {
	*http.Request

	// ID is a per-request correlation id sent as X-Request-Id.
	ID string

	// Retried is set once the request has been resubmitted after an auth rejection.
	Retried bool

	// Refreshed is set when the access token was renewed before the first send.
	// A rejection of such a request is final.
	Refreshed bool

	// StartedAt is recorded by the request interceptor for latency logging.
	StartedAt time.Time
}

// NewRequest wraps r for the interceptor chain
func NewRequest(r *http.Request) *Request {
	return &Request{Request: r}
}

// rewind prepares the request to be sent again.
func (r *Request) rewind() error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if r.GetBody == nil {
		return ErrNotReplayable
	}
	body, err := r.GetBody()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReplayable, err)
	}
	r.Body = body
	return nil
}

// Doer executes a request and returns either a successful response or an error.
// Failures from the network are *NetworkError, failures reported by the server are *HTTPError.
type Doer func(req *Request) (*http.Response, error)

// Middleware decorates a Doer
type Middleware func(next Doer) Doer

// Chain wraps d with mw so that mw[0] runs first.
func Chain(d Doer, mw ...Middleware) Doer {
	chained := d
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Request *Request
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Request.Method, e.Request.URL.Redacted(), e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError means the server answered with a non-success status.
// Body holds up to 64KiB of the response body; Response.Body reads the same bytes.
type HTTPError struct {
	Request    *Request
	Response   *http.Response
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d", e.Request.Method, e.Request.URL.Redacted(), e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not an *HTTPError.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Send returns the innermost Doer, which hands the request to rt and
// classifies the outcome.
func Send(rt http.RoundTripper) Doer {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return func(req *Request) (*http.Response, error) {
		resp, err := rt.RoundTrip(req.Request)
		if err != nil {
			return nil, &NetworkError{Request: req, Err: err}
		}

		if resp.StatusCode < http.StatusBadRequest {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return nil, &HTTPError{
			Request:    req,
			Response:   resp,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}
}
