package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/panyam/possession"
	"golang.org/x/oauth2"
)

// LoginRequest is the request body for the login endpoint
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response from the login endpoint
type LoginResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	Identity     possession.Identity `json:"identity"`
	Error        string              `json:"error,omitempty"`
	ErrorDesc    string              `json:"error_description,omitempty"`
}

// RefreshRequest is the request body for the refresh endpoint
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the response from the refresh endpoint
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// HTTPRefreshFunc returns a RefreshTokenFunc that posts the refresh token as
// JSON to refreshURL. rt must not be an intercepted transport.
func HTTPRefreshFunc(refreshURL string, rt http.RoundTripper) RefreshTokenFunc {
	return func(ctx context.Context, refreshToken string) (string, error) {
		var out RefreshResponse
		status, err := postJSON(ctx, rt, refreshURL, RefreshRequest{RefreshToken: refreshToken}, &out)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			return "", endpointError("refresh", status, out.Error, out.ErrorDesc)
		}
		return out.AccessToken, nil
	}
}

// OAuth2RefreshFunc returns a RefreshTokenFunc that performs a standard
// refresh_token grant against cfg's token endpoint.
func OAuth2RefreshFunc(cfg *oauth2.Config) RefreshTokenFunc {
	return func(ctx context.Context, refreshToken string) (string, error) {
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", fmt.Errorf("refresh grant failed: %w", err)
		}
		return tok.AccessToken, nil
	}
}

func endpointError(op string, status int, code, desc string) error {
	if desc != "" {
		return fmt.Errorf("%s failed: %s", op, desc)
	}
	if code != "" {
		return fmt.Errorf("%s failed: %s", op, code)
	}
	return fmt.Errorf("%s failed: HTTP %d", op, status)
}

// postJSON sends body to url and decodes the JSON answer into out, whatever the status.
func postJSON(ctx context.Context, rt http.RoundTripper, url string, body, out any) (int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Use base transport directly to avoid auth loop
	httpClient := &http.Client{Transport: rt}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("invalid response from server: %w", err)
	}
	return resp.StatusCode, nil
}
