package registry

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenAuth attaches a bearer token to registry requests, the way an
// `.npmrc` auth-token entry would. The client holds no registry signing
// key, so it cannot (and does not attempt to) verify the token's
// signature — it only decodes the claims to fail fast on an expired
// token before spending a round trip on a request the registry would
// reject anyway.
type TokenAuth struct {
	token string
}

// NewTokenAuth wraps a raw bearer token. An empty token disables auth.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// ExpiredTokenError reports that a configured token's "exp" claim has
// already passed.
type ExpiredTokenError struct {
	ExpiredAt time.Time
}

func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("registry token expired at %s", e.ExpiredAt.Format(time.RFC3339))
}

// BearerToken returns the configured token, or an error if its claims
// show it already expired.
func (a *TokenAuth) BearerToken() (string, error) {
	if a == nil || a.token == "" {
		return "", nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(a.token, &claims); err != nil {
		// Not every registry issues JWTs; an opaque token is passed
		// through unexamined.
		return a.token, nil
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return "", &ExpiredTokenError{ExpiredAt: exp.Time}
	}
	return a.token, nil
}
