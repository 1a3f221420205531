package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 8, cfg.Password.MinLength)
	assert.Equal(t, uint32(65536), cfg.Password.Memory)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.Equal(t, 1000, cfg.RateLimit.PerHour)
	assert.Equal(t, time.Hour, cfg.RateLimit.IdleTTL)
	assert.False(t, cfg.Throttle.Enabled)
	assert.Empty(t, cfg.Database.Type)
	assert.Contains(t, cfg.APIKey.ExemptPaths, "/healthz")
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTHGATE_SERVER_PORT", "9090")
	t.Setenv("AUTHGATE_SESSION_TTL", "24h")
	t.Setenv("AUTHGATE_RATELIMIT_PER_MINUTE", "5")
	t.Setenv("AUTHGATE_APIKEY_REQUIRED_PATHS", "/v1/generate,/v1/payloads")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.RateLimit.PerMinute)
	assert.Equal(t, []string{"/v1/generate", "/v1/payloads"}, cfg.APIKey.RequiredPaths)
}

func TestLoad_InvalidSessionTTL(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTHGATE_SESSION_TTL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_WeakMinLengthRejected(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTHGATE_PASSWORD_MIN_LENGTH", "4")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RedisSessionsRequiresAddress(t *testing.T) {
	viper.Reset()
	t.Setenv("AUTHGATE_REDIS_SESSIONS", "true")

	_, err := Load()
	assert.Error(t, err)
}
