package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("GCP_PROJECT_ID", "test-project")

	cfg := Load()

	assert.Equal(t, "8099", cfg.Port)
	assert.Equal(t, 25, cfg.SyncBatchSize)
	assert.Equal(t, 4, cfg.SyncChannelConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.SyncLeaseTTL)
	assert.Equal(t, MissingSKUZero, cfg.MissingSKUPolicy)
	assert.Equal(t, []string{"SHOPIFY", "AMAZON", "SHIPSTATION"}, cfg.SyncChannels)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SYNC_BATCH_SIZE", "10")
	t.Setenv("SYNC_LEASE_TTL", "30s")
	t.Setenv("VERIFY_UPDATES", "true")
	t.Setenv("MISSING_SKU_POLICY", "SKIP")
	t.Setenv("SYNC_CHANNELS", "shopify, amazon")
	t.Setenv("SYNC_SCHEDULE_INTERVAL", "15m")

	cfg := Load()

	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, 30*time.Second, cfg.SyncLeaseTTL)
	assert.True(t, cfg.VerifyUpdates)
	assert.Equal(t, MissingSKUSkip, cfg.MissingSKUPolicy)
	assert.Equal(t, []string{"SHOPIFY", "AMAZON"}, cfg.SyncChannels)
	assert.Equal(t, 15*time.Minute, cfg.SyncScheduleInterval)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SYNC_BATCH_SIZE", "lots")
	t.Setenv("SYNC_LEASE_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 25, cfg.SyncBatchSize)
	assert.Equal(t, 2*time.Minute, cfg.SyncLeaseTTL)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL:            "postgres://localhost/test",
			SyncBatchSize:          25,
			SyncChannelConcurrency: 4,
			MissingSKUPolicy:       MissingSKUZero,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"zero batch size", func(c *Config) { c.SyncBatchSize = 0 }},
		{"negative concurrency", func(c *Config) { c.SyncChannelConcurrency = -1 }},
		{"unknown policy", func(c *Config) { c.MissingSKUPolicy = "guess" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}
