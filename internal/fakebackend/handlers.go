package fakebackend

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panyam/possession"
)

// Order is a minimal order record
type Order struct {
	ID       string `json:"id"`
	Table    int    `json:"table"`
	Items    []Item `json:"items"`
	PlacedBy string `json:"placed_by"`
}

// Item is one line of an order
type Item struct {
	FoodID   string `json:"food_id"`
	Quantity int    `json:"qty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	Identity     possession.Identity `json:"identity"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (b *Backend) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", b.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", b.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/oauth/token", b.handleOAuthToken).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(b.RequireBearer)
	api.HandleFunc("/orders", b.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", b.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/whoami", b.handleWhoAmI).Methods(http.MethodGet)
	return r
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "Invalid request body"})
		return
	}

	b.mu.Lock()
	account, ok := b.accounts[req.Username]
	b.mu.Unlock()
	if !ok || account.Password != req.Password {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_grant", ErrorDescription: "Invalid credentials"})
		return
	}

	access, err := b.AccessToken(req.Username, b.now().Add(b.accessTTL))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  access,
		RefreshToken: b.IssueRefreshToken(req.Username),
		Identity:     account.Identity,
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "Invalid request body"})
		return
	}

	access, ok := b.refresh(req.RefreshToken)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_grant", ErrorDescription: "Refresh token is invalid or revoked"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access})
}

// handleOAuthToken serves the refresh_token grant in its standard form-encoded shape.
func (b *Backend) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported_grant_type"})
		return
	}

	access, ok := b.refresh(r.PostForm.Get("refresh_token"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_grant", ErrorDescription: "Refresh token is invalid or revoked"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(b.accessTTL.Seconds()),
	})
}

func (b *Backend) refresh(refreshToken string) (string, bool) {
	b.mu.Lock()
	b.refreshCalls++
	gate := b.refreshGate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	username, ok := b.refreshTokens[refreshToken]
	b.mu.Unlock()
	if !ok {
		return "", false
	}

	access, err := b.AccessToken(username, b.now().Add(b.accessTTL))
	if err != nil {
		return "", false
	}
	return access, true
}

func (b *Backend) handleListOrders(w http.ResponseWriter, r *http.Request) {
	restaurantID := RestaurantIDFromContext(r.Context())

	b.mu.Lock()
	orders := append([]Order{}, b.orders[restaurantID]...)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"restaurant_id": restaurantID,
		"orders":        orders,
	})
}

func (b *Backend) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", ErrorDescription: "Invalid order"})
		return
	}
	if len(order.Items) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid_order", ErrorDescription: "Order has no items"})
		return
	}

	restaurantID := RestaurantIDFromContext(r.Context())
	order.ID = newOpaqueToken(6)
	order.PlacedBy = UserIDFromContext(r.Context())

	b.mu.Lock()
	b.orders[restaurantID] = append(b.orders[restaurantID], order)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, order)
}

func (b *Backend) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":         UserIDFromContext(r.Context()),
		"restaurant_id":   RestaurantIDFromContext(r.Context()),
		"restaurant_name": r.Header.Get(possession.HeaderRestaurantName),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
