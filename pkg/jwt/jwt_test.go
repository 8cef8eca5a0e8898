package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, c *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("unknown-to-client"))
	require.NoError(t, err)
	return s
}

func TestParseUnverifiedIdentity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tok := sign(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
		UserID:           "user-1",
		Type:             "access",
	})
	c, err := ParseUnverified(tok, now)
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.Identity())

	tok = sign(t, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-2"}})
	c, err = ParseUnverified(tok, now)
	require.NoError(t, err)
	assert.Equal(t, "sub-2", c.Identity())
}

func TestParseUnverifiedRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := ParseUnverified("not-a-token", now)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := sign(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))},
		UserID:           "user-1",
	})
	_, err = ParseUnverified(expired, now)
	assert.ErrorIs(t, err, ErrExpiredToken)

	refresh := sign(t, &Claims{UserID: "user-1", Type: "refresh"})
	_, err = ParseUnverified(refresh, now)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous := sign(t, &Claims{})
	_, err = ParseUnverified(anonymous, now)
	assert.ErrorIs(t, err, ErrNoIdentity)
}
