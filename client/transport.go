package client

import (
	"errors"
	"net/http"
)

// Transport adapts a Doer to http.RoundTripper so a plain http.Client can use
// the interceptor chain. Server rejections are returned as responses, as
// net/http expects.
type Transport struct {
	Do Doer
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	resp, err := t.Do(NewRequest(req.Clone(req.Context())))
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Response != nil {
			return httpErr.Response, nil
		}
		return nil, err
	}
	return resp, nil
}
