package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-jobs/internal/service/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssue_RoundTrip(t *testing.T) {
	cfg := authConfig(testSecret, 5)

	token, err := issue("user-42", cfg)
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService(cfg)
	require.NoError(t, err)
	claims, err := jwtService.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
}

func TestIssue_RequiresUser(t *testing.T) {
	_, err := issue("  ", authConfig(testSecret, 5))
	require.Error(t, err)
}

func TestAuthConfig_FromEnvironment(t *testing.T) {
	t.Setenv("SCRY_AUTH_JWT_SECRET", testSecret)
	t.Setenv("SCRY_AUTH_TOKEN_LIFETIME_MINUTES", "15")

	cfg := authConfig("", 0)
	assert.Equal(t, testSecret, cfg.JWTSecret)
	assert.Equal(t, 15, cfg.TokenLifetimeMinutes)

	cfg = authConfig("", 30)
	assert.Equal(t, 30, cfg.TokenLifetimeMinutes)
}
