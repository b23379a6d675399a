package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Redis.Disabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, time.Minute, cfg.Scheduler.ScanInterval)
	assert.Equal(t, 500, cfg.Scheduler.ScanBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, int64(64*1024), cfg.Gateway.MaxMessageSize)
	assert.Nil(t, cfg.Gateway.PublicChannels)
	assert.True(t, cfg.Features.IsEnabled(FeatureNotificationRetry))
	assert.False(t, cfg.Features.IsEnabled(FeatureManualJobs))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "gw")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("AUTH_API_KEY_HASHES", " h1 ,, h2 ")
	t.Setenv("GATEWAY_ALLOWED_ORIGINS", "https://app.example")
	t.Setenv("GATEWAY_PUBLIC_CHANNELS", "announcements, cohort:2026 ")
	t.Setenv("SCHEDULER_SCAN_INTERVAL", "30s")
	t.Setenv("SCHEDULER_SCAN_LOCK_TTL", "25s")
	t.Setenv("FEATURE_API_MANUAL_JOBS", "true")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://gw:pw@db:5432/postgres?sslmode=require", cfg.Database.URL)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Auth.APIKeyHashes)
	assert.Equal(t, []string{"https://app.example"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, []string{"announcements", "cohort:2026"}, cfg.Gateway.PublicChannels)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ScanInterval)
	assert.True(t, cfg.Features.IsEnabled(FeatureManualJobs))
	assert.Equal(t, 8080, cfg.HTTP.Port, "unparsable values fall back to defaults")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GATEWAY_PING_INTERVAL", "2m")
	t.Setenv("SCHEDULER_SCAN_LOCK_TTL", "5m")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"AUTH_JWT_SECRET is required",
		"DATABASE_URL is required in production",
		"AUTH_API_KEY_HASHES is required in production",
		"GATEWAY_PING_INTERVAL must be shorter",
		"SCHEDULER_SCAN_LOCK_TTL",
		"LOG_FORMAT must be json or text",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestFeatureFlags(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled("unknown.feature"))
	require.NoError(t, ff.SetEnabled(FeatureScanLease, false))
	assert.False(t, ff.IsEnabled(FeatureScanLease))
	assert.ErrorIs(t, ff.SetEnabled("unknown.feature", true), ErrFeatureNotFound)

	list := ff.List()
	require.NotEmpty(t, list)
	assert.Equal(t, FeatureEventIngest, list[0].Name)

	var nilFlags *FeatureFlags
	assert.True(t, nilFlags.IsEnabled(FeatureManualJobs))
	assert.Equal(t, "FEATURE_SCHEDULER_SCAN_LEASE", featureNameToEnvKey(FeatureScanLease))
}
