package possession

import "errors"

var (
	// ErrAnonymous is returned when an operation needs an authenticated session and there is none.
	ErrAnonymous = errors.New("session is anonymous")

	// ErrIncompleteBundle is returned by Store.Set when the bundle is missing
	// its access token or its identity.
	ErrIncompleteBundle = errors.New("incomplete credential bundle")

	// ErrNoRefreshToken means the access token can no longer be used and there is
	// nothing to mint a new one with. Always terminal for the session.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed wraps any failure of the refresh call. Always terminal for the session.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrEmptyRefreshResult is reported when the refresh call succeeds but returns no access token.
	ErrEmptyRefreshResult = errors.New("refresh returned no access token")
)
