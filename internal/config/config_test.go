package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trentmillar/keystone-net/internal/config"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 14*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, 5*time.Minute, cfg.AuthorizationCodeTTL)
	require.False(t, cfg.RollingTokens)
	require.False(t, cfg.SlidingExpiration)
}

func TestLoadRejectsInvalidCombination(t *testing.T) {
	t.Setenv("ROLLING_TOKENS", "true")
	t.Setenv("DISABLE_TOKEN_STORAGE", "true")

	_, err := config.Load()
	require.Error(t, err)
	var cfgErr *lifecycle.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsSlidingWithoutStorage(t *testing.T) {
	t.Setenv("SLIDING_EXPIRATION", "on")
	t.Setenv("DISABLE_TOKEN_STORAGE", "1")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLifecycleOptionsProjection(t *testing.T) {
	t.Setenv("ROLLING_TOKENS", "true")
	t.Setenv("REFRESH_TOKEN_TTL", "2h")

	cfg, err := config.Load()
	require.NoError(t, err)

	opts := cfg.LifecycleOptions()
	require.True(t, opts.RollingTokens)
	require.Equal(t, 2*time.Hour, opts.RefreshTokenLifetime)
	require.NoError(t, opts.Validate())
}
