package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/panyam/possession"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-Id"

// RequestInterceptor attaches identity headers and a valid bearer token to
// every request made while the session is authenticated. Anonymous requests
// pass through untouched.
func (a *Authenticator) RequestInterceptor() Middleware {
	return func(next Doer) Doer {
		return func(req *Request) (*http.Response, error) {
			req.StartedAt = a.clock.Now()
			if req.ID == "" {
				req.ID = uuid.NewString()
			}

			var (
				b   possession.Bundle
				ok  bool
				err error
			)
			if req.Retried {
				// A replay carries the token its refresh just produced
				b, ok = a.store.Get()
			} else {
				b, ok, req.Refreshed, err = a.Credentials(req.Context())
			}
			if !ok {
				return next(req)
			}

			if req.Header == nil {
				req.Header = make(http.Header)
			}
			req.Header.Set(HeaderRequestID, req.ID)
			b.Identity.Apply(req.Header)
			if err != nil {
				return nil, err
			}

			req.Header.Set(possession.HeaderAuthorization, possession.BearerValue(b.AccessToken))
			return next(req)
		}
	}
}

// ResponseInterceptor logs every completed request. An authorization
// rejection of a request that has not been retried triggers one refresh and
// one resubmission; the resubmission's outcome is final. A request whose token
// was already renewed before sending is not refreshed again.
func (a *Authenticator) ResponseInterceptor() Middleware {
	return func(next Doer) Doer {
		var handle Doer
		handle = func(req *Request) (*http.Response, error) {
			resp, err := next(req)
			if err == nil {
				a.logEvent(a.logger.Debug(), req).Int("status", resp.StatusCode).Msg("request completed")
				return resp, nil
			}

			if a.IsAuthFailure(err) {
				if !req.Retried && !req.Refreshed {
					return a.retry(req, err, handle)
				}
				a.logEvent(a.logger.Warn(), req).Err(err).Msg("request rejected after refresh")
				a.clear("authorization rejected after refresh")
				return nil, err
			}

			if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				a.logEvent(a.logger.Debug(), req).Err(err).Msg("request abandoned by caller")
				return nil, err
			}

			a.logEvent(a.logger.Error(), req).Err(err).Msg("request failed")
			if a.clearOnFailure {
				a.clear("request failed")
			}
			return nil, err
		}
		return handle
	}
}

func (a *Authenticator) retry(req *Request, cause error, handle Doer) (*http.Response, error) {
	req.Retried = true

	b, ok := a.store.Get()
	if !ok || !b.HasRefreshToken() {
		a.logEvent(a.logger.Warn(), req).Err(cause).Msg("request rejected and session cannot be renewed")
		a.clear("authorization rejected without refresh token")
		return nil, cause
	}

	token, err := a.Renew(req.Context())
	if err != nil {
		return nil, err
	}

	if err := req.rewind(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, cause)
	}
	req.Header.Set(possession.HeaderAuthorization, possession.BearerValue(token))

	a.logEvent(a.logger.Debug(), req).Msg("replaying request with refreshed token")
	return handle(req)
}

func (a *Authenticator) logEvent(e *zerolog.Event, req *Request) *zerolog.Event {
	e = e.Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("request_id", req.ID).
		Bool("retried", req.Retried)
	if !req.StartedAt.IsZero() {
		e = e.Dur("duration", a.clock.Since(req.StartedAt))
	}
	return e
}

// Interceptors returns the response and request interceptors in chain order.
func (a *Authenticator) Interceptors() []Middleware {
	return []Middleware{a.ResponseInterceptor(), a.RequestInterceptor()}
}
