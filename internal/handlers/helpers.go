package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aurelia-jewels/storefront/internal/platform/httpx"
	"github.com/aurelia-jewels/storefront/internal/platform/session"
)

const maxRequestBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// SessionStates resolves a request to its per-session state bundle.
type SessionStates interface {
	Get(id string) (*session.State, error)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// sessionState looks up the state bundle for the request's session cookie.
// The second return value reports whether a usable state was written to the
// caller; on false an error response has already been sent.
func sessionState(w http.ResponseWriter, r *http.Request, states SessionStates) (*session.State, bool) {
	ctx := r.Context()
	id, ok := session.IDFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_missing", "browsing session could not be established", http.StatusInternalServerError))
		return nil, false
	}
	state, err := states.Get(id)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "browsing session could not be initialised", http.StatusInternalServerError))
		return nil, false
	}
	return state, true
}
