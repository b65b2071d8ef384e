package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aurelia-jewels/storefront/internal/cart"
	"github.com/aurelia-jewels/storefront/internal/platform/auth"
	"github.com/aurelia-jewels/storefront/internal/platform/httpx"
	"github.com/aurelia-jewels/storefront/internal/platform/requestctx"
)

// SessionHandlers manages sign-in and sign-out for a browsing session. Login
// is the transition that fires the one-time guest cart merge.
type SessionHandlers struct {
	states   SessionStates
	verifier *auth.Verifier
}

// NewSessionHandlers constructs session handlers bound to the registry and
// token verifier.
func NewSessionHandlers(states SessionStates, verifier *auth.Verifier) *SessionHandlers {
	return &SessionHandlers{states: states, verifier: verifier}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

type loginRequest struct {
	Token string `json:"token"`
}

type identityPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "token is required", http.StatusBadRequest))
		return
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_session", "session token is invalid or expired", http.StatusUnauthorized))
		return
	}

	state.SetToken(token)

	merged := false
	if state.BeginMerge() {
		if err := state.Cart.OnAuthenticated(ctx); err != nil {
			if errors.Is(err, cart.ErrMergeInFlight) {
				httpx.WriteError(ctx, w, httpx.NewError("merge_in_flight", "cart merge is already running", http.StatusConflict))
				return
			}
			// The merge did not run to completion; re-arm so the next
			// login attempt can retry it.
			state.ResetMerge()
			requestctx.Logger(ctx).Warn("guest cart merge failed on login")
			httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "signed in but the cart could not be merged", http.StatusBadGateway))
			return
		}
		merged = true
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"identity": identityPayload{UserID: identity.UserID, Email: identity.Email},
		"merged":   merged,
		"cart":     buildCartViewPayload(state.Cart),
	})
}

func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	state, ok := sessionState(w, r, h.states)
	if !ok {
		return
	}

	state.SetToken("")
	state.ResetMerge()
	state.Cart.OnSignedOut()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"cart": buildCartViewPayload(state.Cart),
	})
}

func (h *SessionHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	writeJSONResponse(w, http.StatusOK, identityPayload{UserID: identity.UserID, Email: identity.Email})
}
