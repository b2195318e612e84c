package fakebackend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/panyam/possession"
)

type contextKey string

const (
	userIDKey       contextKey = "userID"
	restaurantIDKey contextKey = "restaurantID"
)

// UserIDFromContext returns the authenticated user ID set by RequireBearer
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// RestaurantIDFromContext returns the restaurant ID set by RequireBearer
func RestaurantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(restaurantIDKey).(string)
	return v
}

// RequireBearer rejects requests without a valid access token, or whose
// identity headers do not match the token's claims.
func (b *Backend) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.consumeRejection() {
			b.handleAuthError(w, fmt.Errorf("token rejected"))
			return
		}

		authHeader := r.Header.Get(possession.HeaderAuthorization)
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			b.handleAuthError(w, fmt.Errorf("missing bearer token"))
			return
		}

		userID, restaurantID, err := b.validateJWT(tokenString)
		if err != nil {
			b.handleAuthError(w, err)
			return
		}

		if r.Header.Get(possession.HeaderUserID) != userID || r.Header.Get(possession.HeaderRestaurantID) != restaurantID {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", ErrorDescription: "identity headers do not match token"})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, restaurantIDKey, restaurantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateJWT validates a JWT access token
func (b *Backend) validateJWT(tokenString string) (userID, restaurantID string, err error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return b.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid claims")
	}

	// Verify token type
	if tokenType, ok := claims["type"].(string); !ok || tokenType != tokenTypeAccess {
		return "", "", fmt.Errorf("invalid token type")
	}

	userID, _ = claims["sub"].(string)
	restaurantID, _ = claims["rid"].(string)
	if userID == "" || restaurantID == "" {
		return "", "", fmt.Errorf("missing subject")
	}
	return userID, restaurantID, nil
}

func (b *Backend) handleAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pos"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error:            "unauthorized",
		ErrorDescription: err.Error(),
	})
}
