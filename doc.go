// Package possession holds the session state of a POS terminal: the
// credential bundle (access token, refresh token, and the restaurant and
// staff identity) and the store that owns it.
//
// # Architecture
//
// Store: the single source of truth for the bundle. A bundle is either fully
// present or absent; Set installs one at login, SetAccessToken rotates the
// access token after a refresh, and Clear ends the session. Every transition
// is pushed to subscribers so a UI can return to its login screen.
//
// Tokens: ExpiresAt and IsExpired read the exp claim of a JWT access token
// without verifying it. An unreadable token counts as expired.
//
// The packages around it build on the store:
//
//   - client: request and response interceptors that attach credentials,
//     refresh at most once at a time, and replay a rejected request once
//   - activity: inactivity and background timers that clear the session
//   - grpc: the same credential handling for gRPC client calls
//   - stores/fs, stores/kv: persistence of the bundle between runs
//
// # Basic Usage
//
//	store := possession.NewStore(possession.WithPersister(persister))
//	if err := store.Restore(); err != nil {
//	    log.Warn().Err(err).Msg("ignoring saved session")
//	}
//
//	pos := client.NewAuthClient("https://pos.example.com", store)
//	if !store.IsAuthenticated() {
//	    if _, err := pos.Login(ctx, username, password); err != nil {
//	        return err
//	    }
//	}
//
//	guard := activity.NewGuard(store)
//	defer guard.Close()
//
//	resp, err := pos.Get(ctx, "/api/orders")
//
// # Errors
//
// Requests fail with *client.NetworkError when nothing came back and
// *client.HTTPError when the backend answered with an error status. Session
// failures wrap ErrRefreshFailed or ErrNoRefreshToken; by then the store has
// already been cleared.
package possession
