package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
}

type EnvConfig interface {
	GetBaseURL() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLoginPath() string
	GetRefreshPath() string
}

type SessionConfig interface {
	GetSessionFile() string
	GetSessionKey() string
	GetInactivityTimeout() time.Duration
	GetBackgroundGrace() time.Duration
	GetExpiryMargin() time.Duration
	GetClearOnError() bool
}

type mainConfig struct {
	EnvVars
	Session
}

func New() Config {
	return mainConfig{}
}
