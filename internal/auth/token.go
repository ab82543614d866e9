package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of a JWT access token without
// verifying its signature; the client never holds the signing key.
// Opaque or malformed tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
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

// TokenExpired reports whether token expires within skew of now.
// Tokens without a readable expiry are never considered expired.
func TokenExpired(token string, now time.Time, skew time.Duration) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
