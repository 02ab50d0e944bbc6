package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/akari")
	cfg, err := loadConfigFrom("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "akari_session", cfg.SessionCookieName)
	assert.Equal(t, 24*time.Hour, cfg.InitDataMaxAge)
	assert.Equal(t, time.Second, cfg.JobItemDelay)
	assert.Equal(t, 10000.0, cfg.WhaleMinUSD)
	assert.True(t, cfg.Features().Cron)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATABASE_URL=postgres://file/akari\nENABLE_PREDICTIONS=false\nJOB_ITEM_DELAY=250ms\n"), 0o600))
	t.Setenv("CORS_ORIGINS", "https://app.akari.xyz, https://t.me")

	cfg, err := loadConfigFrom(envFile)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/akari", cfg.DatabaseURL)
	assert.False(t, cfg.Features().Predictions)
	assert.Equal(t, 250*time.Millisecond, cfg.JobItemDelay)
	assert.Equal(t, []string{"https://app.akari.xyz", "https://t.me"}, cfg.AllowedOrigins())
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg = &Config{DatabaseURL: "postgres://x", Env: "Production", AdminToken: "short", CronSecret: "long-enough-secret-value"}
	assert.ErrorContains(t, cfg.Validate(), "ADMIN_TOKEN")

	cfg.AdminToken = "long-enough-admin-token"
	cfg.CronSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "CRON_SECRET")

	cfg = &Config{DatabaseURL: "postgres://x"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.DBMaxOpenConns)
	assert.Equal(t, 1, cfg.DBRetryAttempts)
	assert.Equal(t, "akari_session", cfg.SessionCookieName)
}
