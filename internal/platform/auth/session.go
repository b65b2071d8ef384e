package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken indicates a missing, malformed, or expired session token.
	ErrInvalidToken = errors.New("auth: invalid session token")

	errSecretRequired = errors.New("auth: signing secret is required")
)

// Identity describes the signed-in shopper carried by a session token.
type Identity struct {
	UserID string
	Email  string
}

type identityContextKey struct{}

// Verifier validates HS256 session tokens issued by the identity service.
type Verifier struct {
	secret []byte
	clock  func() time.Time
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewVerifier constructs a session token verifier.
func NewVerifier(secret string, clock func() time.Time) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{secret: []byte(secret), clock: clock}, nil
}

// Verify parses and validates a session token, returning the identity it
// carries. Only HS256 is accepted.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	// Claims validation is done by hand below so expiry checks run against
	// the injected clock; the jwt/v4 parser only consults the wall clock.
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	now := v.clock().UTC()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyNotBefore(now, false) {
		return Identity{}, ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Email: strings.TrimSpace(claims.Email)}, nil
}

// Issue mints a session token for the given identity. Primarily used by
// local tooling and tests; production tokens come from the identity service.
func (v *Verifier) Issue(identity Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.clock().UTC()
	claims := sessionClaims{
		Email: strings.TrimSpace(identity.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(identity.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
