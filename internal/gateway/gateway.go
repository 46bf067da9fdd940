// Package gateway is the boundary to the external authentication and
// rate-limiting gateway. The storage subsystem performs no
// authorization logic of its own: it consumes the gateway as a single
// permitted/denied check plus an identity string.
package gateway

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Gate answers the opaque permission check for one request token.
type Gate interface {
	Check(ctx context.Context, token string) (identity string, permitted bool)
}

// AllowAll permits every request with an anonymous identity. Used when
// no gateway is configured.
type AllowAll struct{}

// Check implements Gate.
func (AllowAll) Check(_ context.Context, _ string) (string, bool) {
	return "anonymous", true
}

// JWTGate extracts the caller's identity from a bearer token signed by
// the upstream gateway. Verifying the signature is delegation, not
// authorization: a token the gateway did not sign is simply not a
// gateway verdict.
type JWTGate struct {
	secret []byte
}

// NewJWTGate builds a gate around the gateway's shared HMAC secret.
func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: []byte(secret)}
}

// Check implements Gate. The identity is the token's subject claim.
func (g *JWTGate) Check(_ context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
