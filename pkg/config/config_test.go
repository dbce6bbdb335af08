package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MERIDIAN_LOCAL_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.LocalMode, "no DATABASE_URL should enable local mode")
	assert.Equal(t, 5*time.Minute, cfg.SyncCoalesceWindow)
	assert.Equal(t, 4, cfg.WorkersPerTenant)
	assert.Equal(t, 240, cfg.ProviderReadPerMinute)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://meridian:x@localhost:5432/meridian")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SYNC_COALESCE_WINDOW", "90s")
	t.Setenv("WORKERS_PER_TENANT", "8")
	t.Setenv("PROVIDER_WRITE_PER_MINUTE", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.LocalMode)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 90*time.Second, cfg.SyncCoalesceWindow)
	assert.Equal(t, 8, cfg.WorkersPerTenant)
	assert.Equal(t, 60, cfg.ProviderWritePerMinute)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("WORKERS_PER_TENANT", "not-a-number")
	t.Setenv("SYNC_COALESCE_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorkersPerTenant)
	assert.Equal(t, 5*time.Minute, cfg.SyncCoalesceWindow)
}
