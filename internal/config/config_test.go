package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Store: StoreConfig{Driver: "sqlite", DatabaseURL: ":memory:"},
		Fetch: FetchConfig{
			RequestDelayMs:    7500,
			TimeoutSecs:       30,
			MaxRetries:        3,
			BackoffMultiplier: 2.0,
			UserAgents:        []string{"agent-a"},
		},
		Queue:  QueueConfig{SubjectDelayMs: 10000},
		Review: ReviewConfig{ConfidenceThreshold: 70, FinancialDeltaPct: 20},
		Job:    JobConfig{MaxConcurrent: 1, TimeoutSecs: 600},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 7500, cfg.Fetch.RequestDelayMs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 2.0, cfg.Fetch.BackoffMultiplier)
	assert.Len(t, cfg.Fetch.UserAgents, 4)
	assert.Equal(t, 10000, cfg.Queue.SubjectDelayMs)
	assert.Equal(t, 70.0, cfg.Review.ConfidenceThreshold)
	assert.Equal(t, 20.0, cfg.Review.FinancialDeltaPct)
	assert.Equal(t, 1, cfg.Job.MaxConcurrent)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsShortDelay(t *testing.T) {
	cfg := validConfig()
	cfg.Fetch.RequestDelayMs = 500

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_delay_ms")
}

func TestValidateRejectsEmptyUserAgents(t *testing.T) {
	cfg := validConfig()
	cfg.Fetch.UserAgents = nil

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsThresholdOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Review.ConfidenceThreshold = 120

	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 7500*time.Millisecond, cfg.Fetch.RequestDelay())
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Queue.SubjectDelay())
	assert.Equal(t, 10*time.Minute, cfg.Job.Timeout())
}
