package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the slice of the backend JWT the client cares about: who it is
// and until when. The signature is NOT verified here; only the server holds
// the key, and the client merely reads its own identity out of the token.
type Claims struct {
	Username  string
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim has passed. Tokens with no
// exp claim never expire client-side.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ParseClaims extracts identity claims without verifying the signature.
func ParseClaims(bearer string) (*Claims, error) {
	parser := jwt.NewParser()

	var mc jwt.MapClaims = jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(bearer, mc); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims := &Claims{
		Username: stringClaim(mc, "sub"),
		UserID:   stringClaim(mc, "userId"),
		Role:     stringClaim(mc, "role"),
	}
	if claims.UserID == "" {
		claims.UserID = claims.Username
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	if v, ok := mc[key].(string); ok {
		return v
	}
	return ""
}
