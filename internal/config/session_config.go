package config

import "time"

const (
	sessionFileVar       = "POS_SESSION_FILE"
	sessionKeyVar        = "POS_SESSION_KEY"
	inactivityTimeoutVar = "POS_INACTIVITY_TIMEOUT"
	backgroundGraceVar   = "POS_BACKGROUND_GRACE"
	expiryMarginVar      = "POS_EXPIRY_MARGIN"
	clearOnErrorVar      = "POS_CLEAR_ON_ERROR"
)

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionFile returns where the session is persisted. Empty selects the
// per-user config directory.
func (Session) GetSessionFile() string {
	return GetEnv(sessionFileVar, "")
}

// GetSessionKey returns the passphrase used to seal the persisted session.
// Empty stores it unsealed.
func (Session) GetSessionKey() string {
	return GetEnv(sessionKeyVar, "")
}

func (Session) GetInactivityTimeout() time.Duration {
	return GetDuration(inactivityTimeoutVar, 5*time.Minute)
}

func (Session) GetBackgroundGrace() time.Duration {
	return GetDuration(backgroundGraceVar, time.Minute)
}

func (Session) GetExpiryMargin() time.Duration {
	return GetDuration(expiryMarginVar, 10*time.Second)
}

// GetClearOnError reports whether request failures unrelated to
// authorization also end the session.
func (Session) GetClearOnError() bool {
	return GetBool(clearOnErrorVar, true)
}
