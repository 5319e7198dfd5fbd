package changelog

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is surfaced by check_connection() when the bearer token's
// own claims show it has already expired, grounded on the teacher's
// internal/syftsdk/auth.go ParseToken expiry check.
var ErrTokenExpired = errors.New("changelog: bearer token expired")

// TokenExpiry decodes the bearer token's exp claim without verifying its
// signature — the remote, not this client, is the authority on validity;
// this only lets the client pre-empt an obviously expired token locally.
// ok is false when the token isn't a parseable JWT (e.g. an opaque
// API key), which is not itself an error.
func TokenExpiry(token string) (expiry time.Time, ok bool) {
	if token == "" {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CheckTokenExpiry returns ErrTokenExpired if token decodes as a JWT whose
// exp claim has already passed.
func CheckTokenExpiry(token string) error {
	expiry, ok := TokenExpiry(token)
	if !ok {
		return nil
	}
	if expiry.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}
