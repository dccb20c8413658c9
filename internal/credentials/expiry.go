package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IsExpired reports whether the access token's exp claim has passed. The
// signature is not checked here; only the server holds the signing secret,
// and a forged exp just causes a refresh the server will reject anyway.
// Tokens that cannot be parsed count as expired.
func IsExpired(accessToken string) bool {
	return isExpiredAt(accessToken, time.Now())
}

func isExpiredAt(accessToken string, now time.Time) bool {
	if accessToken == "" {
		return true
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.Before(now)
}
