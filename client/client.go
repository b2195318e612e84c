// Package client provides the authenticated HTTP session layer of the POS client.
// It attaches credentials to every outgoing request, refreshes the access
// token at most once at a time, replays a rejected request once, and clears
// the session when authentication cannot be recovered.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/panyam/possession"
)

// Default endpoint paths on the POS backend.
const (
	DefaultLoginPath   = "/auth/login"
	DefaultRefreshPath = "/auth/refresh"
)

// AuthClient is an HTTP client for the POS backend with automatic session handling
type AuthClient struct {
	serverURL     string
	store         *possession.Store
	auth          *Authenticator
	authOpts      []Option
	refresh       RefreshTokenFunc
	httpClient    *http.Client
	baseTransport http.RoundTripper
	loginPath     string
	refreshPath   string
	do            Doer
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithLoginPath sets a custom login endpoint path
func WithLoginPath(path string) ClientOption {
	return func(c *AuthClient) {
		c.loginPath = path
	}
}

// WithRefreshPath sets a custom refresh endpoint path
func WithRefreshPath(path string) ClientOption {
	return func(c *AuthClient) {
		c.refreshPath = path
	}
}

// WithRefreshFunc replaces the default JSON refresh call, e.g. with OAuth2RefreshFunc.
func WithRefreshFunc(fn RefreshTokenFunc) ClientOption {
	return func(c *AuthClient) {
		c.refresh = fn
	}
}

// WithAuthenticatorOptions passes options through to the Authenticator.
func WithAuthenticatorOptions(opts ...Option) ClientOption {
	return func(c *AuthClient) {
		c.authOpts = append(c.authOpts, opts...)
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		// Copy timeout and other settings
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.CheckRedirect = client.CheckRedirect
			c.httpClient.Jar = client.Jar
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store *possession.Store, opts ...ClientOption) *AuthClient {
	// Normalize server URL
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		loginPath:     DefaultLoginPath,
		refreshPath:   DefaultRefreshPath,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.refresh == nil {
		c.refresh = HTTPRefreshFunc(c.serverURL+c.refreshPath, c.baseTransport)
	}
	c.auth = NewAuthenticator(store, c.refresh, c.authOpts...)
	c.do = Chain(Send(c.baseTransport), c.auth.Interceptors()...)

	// Wrap the base transport with auth handling
	c.httpClient.Transport = &Transport{Do: c.do}

	return c
}

// HTTPClient returns an HTTP client whose requests run through the interceptors
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Authenticator returns the authenticator behind the interceptors
func (c *AuthClient) Authenticator() *Authenticator {
	return c.auth
}

// Do sends req through the interceptor chain. Failures are *NetworkError,
// *HTTPError, or a session error from the root package.
func (c *AuthClient) Do(req *http.Request) (*http.Response, error) {
	return c.do(NewRequest(req))
}

// Get issues a GET for a path relative to the server URL.
func (c *AuthClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Login authenticates with username/password and installs the session
func (c *AuthClient) Login(ctx context.Context, username, password string) (possession.Bundle, error) {
	var out LoginResponse
	status, err := postJSON(ctx, c.baseTransport, c.serverURL+c.loginPath, LoginRequest{
		Username: username,
		Password: password,
	}, &out)
	if err != nil {
		return possession.Bundle{}, err
	}
	if status != http.StatusOK {
		return possession.Bundle{}, endpointError("login", status, out.Error, out.ErrorDesc)
	}

	b := possession.Bundle{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Identity:     out.Identity,
	}
	if err := c.store.Set(b); err != nil {
		return possession.Bundle{}, fmt.Errorf("failed to store session: %w", err)
	}
	return b, nil
}

// Logout ends the session
func (c *AuthClient) Logout() {
	c.auth.clear("logout")
}

// IsLoggedIn returns true if the store holds a session
func (c *AuthClient) IsLoggedIn() bool {
	return c.store.IsAuthenticated()
}
