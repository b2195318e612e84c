package possession

import "net/http"

// Header names used to mirror the session identity into every request.
const (
	HeaderRestaurantID   = "X-Restaurant-Id"
	HeaderRestaurantName = "X-Restaurant-Name"
	HeaderUserID         = "X-User-Id"
	HeaderAuthorization  = "Authorization"
)

// Identity holds the attributes of the logged in staff member and restaurant.
// It does not change for the lifetime of one logical session.
type Identity struct {
	RestaurantID   string `json:"restaurant_id"`
	RestaurantName string `json:"restaurant_name"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	Role           string `json:"role,omitempty"`
}

// IsZero returns true if the identity does not name both a restaurant and a user
func (i Identity) IsZero() bool {
	return i.RestaurantID == "" || i.UserID == ""
}

// Apply writes the identity headers onto h, replacing any existing values.
func (i Identity) Apply(h http.Header) {
	h.Set(HeaderRestaurantID, i.RestaurantID)
	h.Set(HeaderRestaurantName, i.RestaurantName)
	h.Set(HeaderUserID, i.UserID)
}

// Bundle is the atomic unit of session state.
type Bundle struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Identity     Identity `json:"identity"`
}

// Complete returns true if the bundle carries both an access token and an identity
func (b Bundle) Complete() bool {
	return b.AccessToken != "" && !b.Identity.IsZero()
}

// HasRefreshToken returns true if a refresh token is available
func (b Bundle) HasRefreshToken() bool {
	return b.RefreshToken != ""
}

// BearerValue formats a token for the Authorization header.
func BearerValue(token string) string {
	return "Bearer " + token
}
