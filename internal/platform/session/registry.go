package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aurelia-jewels/storefront/internal/cart"
	"github.com/aurelia-jewels/storefront/internal/catalog"
)

// CookieName carries the browsing session identifier.
const CookieName = "sf_session"

var errFactoryRequired = errors.New("session: state factory is required")

type sessionIDContextKey struct{}

// State bundles the per-browser-session controllers. It lives for as long as
// the shopper keeps browsing, the Go stand-in for "while the page is mounted".
type State struct {
	Catalog *catalog.Controller
	Cart    *cart.Reconciler

	mu     sync.Mutex
	token  string
	merged bool
}

// SetToken stores the shopper's bearer token for upstream cart calls. An
// empty token returns the session to the guest state.
func (s *State) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the stored bearer token, empty while the shopper is a guest.
func (s *State) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// BeginMerge flips the merged flag, reporting whether this caller won the
// transition. It is how sign-in fires the cart merge exactly once.
func (s *State) BeginMerge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.merged {
		return false
	}
	s.merged = true
	return true
}

// ResetMerge re-arms the merge guard; called on sign-out.
func (s *State) ResetMerge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged = false
}

type entry struct {
	state    *State
	lastSeen time.Time
}

// RegistryDeps wires the state factory and eviction policy. The factory
// receives the session identifier so per-shopper resources (the guest cart
// document, say) can be scoped to it.
type RegistryDeps struct {
	Factory func(id string) (*State, error)
	TTL     time.Duration
	Clock   func() time.Time
}

// Registry keeps one State per active browsing session, evicting idle ones.
type Registry struct {
	factory func(id string) (*State, error)
	ttl     time.Duration
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry constructs an empty session registry.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Factory == nil {
		return nil, errFactoryRequired
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		factory:  deps.Factory,
		ttl:      ttl,
		clock:    clock,
		sessions: map[string]*entry{},
	}, nil
}

// Get returns the state for the given session, creating it on first sight.
func (r *Registry) Get(id string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = r.clock()
		return e.state, nil
	}
	state, err := r.factory(id)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = &entry{state: state, lastSeen: r.clock()}
	return state, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions every interval until ctx is done.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	cutoff := r.clock().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

// EnsureCookie issues the session cookie when absent and stores the session
// identifier on the request context.
func EnsureCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if cookie, err := r.Cookie(CookieName); err == nil {
			id = cookie.Value
		}
		if id == "" {
			id = ulid.Make().String()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

// WithID stores the session identifier on the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// IDFromContext retrieves the session identifier set by EnsureCookie.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey{}).(string)
	return id, ok && id != ""
}
