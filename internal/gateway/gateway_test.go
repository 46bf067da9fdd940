package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAllowAll(t *testing.T) {
	t.Parallel()

	identity, ok := AllowAll{}.Check(context.Background(), "")
	require.True(t, ok)
	require.Equal(t, "anonymous", identity)
}

func TestJWTGate(t *testing.T) {
	t.Parallel()

	g := NewJWTGate("shared-secret")
	ctx := context.Background()

	identity, ok := g.Check(ctx, signToken(t, "shared-secret", "user-7", time.Now().Add(time.Hour)))
	require.True(t, ok)
	require.Equal(t, "user-7", identity)

	_, ok = g.Check(ctx, signToken(t, "wrong-secret", "user-7", time.Now().Add(time.Hour)))
	require.False(t, ok)

	_, ok = g.Check(ctx, signToken(t, "shared-secret", "user-7", time.Now().Add(-time.Hour)))
	require.False(t, ok)

	_, ok = g.Check(ctx, "")
	require.False(t, ok)

	_, ok = g.Check(ctx, signToken(t, "shared-secret", "", time.Now().Add(time.Hour)))
	require.False(t, ok)
}
