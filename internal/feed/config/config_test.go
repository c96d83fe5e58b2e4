package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "posts", cfg.Source.Collection)
	assert.Equal(t, []string{"insert", "update", "delete"}, cfg.Source.Operations)
	assert.Equal(t, "RESUME_TOKEN", cfg.Source.CheckpointKey)
	assert.Equal(t, 5*time.Second, cfg.Source.RestartBackoff)
	assert.Equal(t, 500, cfg.Sink.MaxFeedSize)
	assert.Equal(t, 30*24*time.Hour, cfg.Sink.PostTTL)
	assert.False(t, cfg.Notify.Enabled())

	require.NoError(t, cfg.Validate())
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{
		Sink: SinkConfig{MaxFeedSize: 50},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "posts", cfg.Name)
	assert.Equal(t, "users", cfg.Source.UsersCollection)
	assert.Equal(t, 50, cfg.Sink.MaxFeedSize, "explicit value must be kept")
	assert.Equal(t, 20, cfg.Sink.DefaultPageSize)
	assert.Equal(t, "FEED", cfg.Notify.StreamName)
	assert.Equal(t, "/metrics", cfg.Health.MetricsPath)
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("POSTFEED_HEALTH_ADDR", ":9999")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "nats://localhost:4222", cfg.Notify.URL)
	assert.True(t, cfg.Notify.Enabled())
	assert.Equal(t, ":9999", cfg.Health.Address)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:   "missing collection",
			modify: func(c *Config) { c.Source.Collection = "" },
			errMsg: "feed.source.collection is required",
		},
		{
			name:   "no operations",
			modify: func(c *Config) { c.Source.Operations = nil },
			errMsg: "at least one operation",
		},
		{
			name:   "unknown operation",
			modify: func(c *Config) { c.Source.Operations = []string{"insert", "drop"} },
			errMsg: `got "drop"`,
		},
		{
			name:   "zero backoff",
			modify: func(c *Config) { c.Source.RestartBackoff = 0 },
			errMsg: "restart_backoff must be positive",
		},
		{
			name:   "zero feed size",
			modify: func(c *Config) { c.Sink.MaxFeedSize = 0 },
			errMsg: "max_feed_size must be positive",
		},
		{
			name:   "negative ttl",
			modify: func(c *Config) { c.Sink.PostTTL = -time.Second },
			errMsg: "post_ttl must be positive",
		},
		{
			name: "notify without stream",
			modify: func(c *Config) {
				c.Notify.URL = "nats://localhost:4222"
				c.Notify.StreamName = ""
			},
			errMsg: "stream_name is required",
		},
		{
			name:   "negative retries",
			modify: func(c *Config) { c.Notify.RetryAttempts = -1 },
			errMsg: "retry_attempts must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
