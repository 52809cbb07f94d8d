package service

import (
	"testing"
	"time"

	"github.com/medquizpro/session-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthService(secret string) *AuthService {
	return NewAuthService(&config.Config{JWTSecret: secret})
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestAuthService("test-secret")

	token, err := svc.GenerateToken("user-42", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Equal(t, "user-42", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestExpiredToken(t *testing.T) {
	svc := newTestAuthService("test-secret")

	token, err := svc.GenerateToken("user-42", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := newTestAuthService("secret-a").GenerateToken("user-42", time.Hour)
	require.NoError(t, err)

	_, err = newTestAuthService("secret-b").ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := newTestAuthService("test-secret")

	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
