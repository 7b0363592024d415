package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether the bearer token carries an exp claim in the
// past. The signature is not verified here; the backend remains the
// authority, this only lets the client stop reconnect attempts that are
// guaranteed to be rejected.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Opaque (non-JWT) tokens are passed through to the server.
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
