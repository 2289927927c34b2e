package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Analytics.GrantCacheTTL)
	assert.Equal(t, 10000, cfg.Analytics.GrantCacheSize)
	assert.Equal(t, 15*time.Second, cfg.Analytics.QueryTimeout)
	assert.Equal(t, 30, cfg.Analytics.DefaultRangeDays)
	assert.Equal(t, uint(3), cfg.Backend.RetryAttempts)

	loc, err := cfg.Analytics.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("ANALYTICS_QUERY_TIMEOUT", "20s")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ":9000", cfg.Server.Addr())
	assert.Equal(t, 20*time.Second, cfg.Analytics.QueryTimeout)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestLoadConfigRejectsBadTimezone(t *testing.T) {
	t.Setenv("ANALYTICS_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	assert.NoError(t, err)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
