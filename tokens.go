package possession

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoExpiry = errors.New("token has no exp claim")

// ExpiresAt decodes the exp claim of an access token without verifying its signature.
// The client never holds the signing key; the server remains the authority on validity.
func ExpiresAt(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errNoExpiry
	}

	return exp.Time, nil
}

// IsExpired reports whether token has expired at now, or will within margin.
// Tokens that cannot be decoded, or carry no exp claim, count as expired.
func IsExpired(token string, now time.Time, margin time.Duration) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return !now.Add(margin).Before(exp)
}
