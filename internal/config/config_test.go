package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RATING_WORKER_ENABLED", "")
	t.Setenv("RATE_LIMIT_ENABLED", "")

	cfg := Load()
	assert.Equal(t, "logibill", cfg.AppName)
	assert.False(t, cfg.RatingWorker.Enabled)
	assert.Equal(t, 30*time.Second, cfg.RatingWorker.PollInterval)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATING_WORKER_ENABLED", "yes")
	t.Setenv("RATING_WORKER_POLL_INTERVAL", "5s")
	t.Setenv("RATE_LIMIT_INGEST_CUSTOMER_RATE", "2.5")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()
	assert.True(t, cfg.RatingWorker.Enabled)
	assert.Equal(t, 5*time.Second, cfg.RatingWorker.PollInterval)
	assert.Equal(t, 2.5, cfg.RateLimit.IngestCustomerRate)
	assert.True(t, cfg.IsProduction())
}
