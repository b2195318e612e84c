package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	baseURLVar     = "POS_BASE_URL"
	appNameVar     = "POS_APP_NAME"
	envVar         = "POS_ENV"
	logLevelVar    = "POS_LOG_LEVEL"
	loginPathVar   = "POS_LOGIN_PATH"
	refreshPathVar = "POS_REFRESH_PATH"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

// GetBaseURL returns the POS backend URL. Empty means run against the
// in-process demo backend.
func (EnvVars) GetBaseURL() string {
	return strings.TrimRight(GetEnv(baseURLVar, ""), "/")
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "POS Terminal")
}

func (EnvVars) GetEnv() string {
	return strings.ToUpper(GetEnv(envVar, "DEV"))
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetLoginPath() string {
	return GetEnv(loginPathVar, "/auth/login")
}

func (EnvVars) GetRefreshPath() string {
	return GetEnv(refreshPathVar, "/auth/refresh")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetDuration parses envVar as a time.Duration, falling back to defaultValue
// when it is unset or invalid.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

// GetBool parses envVar with strconv.ParseBool, falling back to defaultValue
// when it is unset or invalid.
func GetBool(envVar string, defaultValue bool) bool {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", value).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}
