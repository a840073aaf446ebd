package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Location.CacheTTL)
	assert.Equal(t, time.Minute, cfg.Location.MinRefreshInterval)
	assert.Equal(t, 10*time.Minute, cfg.Location.ForegroundInterval)
	assert.Equal(t, 10, cfg.Tracking.BatchSize)
	assert.Equal(t, 3*time.Minute, cfg.Tracking.FlushInterval)
	assert.Equal(t, 100, cfg.Tracking.MaxPending)
	assert.Equal(t, 2*time.Minute, cfg.Tracking.LoginCooldown)
	assert.Equal(t, []string{"phone_call", "offer_use", "review", "collection_add"}, cfg.Tracking.HighPriority)
	assert.False(t, cfg.Tracking.DropClientErrors)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.API.LoginAt.IsZero())
}

func TestLoad_TrackingOverrides(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("TRACKING_BATCH_SIZE", "25")
	t.Setenv("TRACKING_FLUSH_INTERVAL", "30s")
	t.Setenv("TRACKING_HIGH_PRIORITY", "phone_call, review ,")
	t.Setenv("TRACKING_DROP_CLIENT_ERRORS", "true")
	t.Setenv("API_BASE_URL", "https://api.example.test/")
	t.Setenv("API_LOGIN_AT", "2026-03-01T09:00:00Z")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Tracking.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Tracking.FlushInterval)
	assert.Equal(t, []string{"phone_call", "review"}, cfg.Tracking.HighPriority)
	assert.True(t, cfg.Tracking.DropClientErrors)
	assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), cfg.API.LoginAt.UTC())
}

func TestLoad_InvalidValuesFallBackOrFail(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("LOCATION_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Location.CacheTTL)

	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_BadLoginTime(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("API_LOGIN_AT", "yesterday")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.env")
	require.NoError(t, os.WriteFile(path, []byte("TRACKING_SOURCE=ios\nSTORE_NAMESPACE=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("STORE_NAMESPACE", "from-env")
	t.Cleanup(func() { os.Unsetenv("TRACKING_SOURCE") })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ios", cfg.Tracking.Source)
	assert.Equal(t, "from-env", cfg.Store.Namespace)
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Tracking.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg.Tracking.BatchSize = 10
	cfg.Location.Provider = "satellite"
	assert.Error(t, cfg.Validate())
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
}
