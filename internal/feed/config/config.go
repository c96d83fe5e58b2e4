package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config holds configuration for the feed pipeline.
type Config struct {
	// Name identifies the pipeline in logs and metrics
	Name string `yaml:"name"`

	Source    SourceConfig    `yaml:"source"`
	Operators OperatorsConfig `yaml:"operators"`
	Sink      SinkConfig      `yaml:"sink"`
	Notify    NotifyConfig    `yaml:"notify"`
	Health    HealthConfig    `yaml:"health"`
}

// SourceConfig holds change stream settings.
type SourceConfig struct {
	// Collection to watch
	Collection string `yaml:"collection"`

	// UsersCollection holds authors and their follower lists
	UsersCollection string `yaml:"users_collection"`

	// Operations to watch: insert, update, delete
	Operations []string `yaml:"operations"`

	// CheckpointKey is the cache key holding the resume token
	CheckpointKey string `yaml:"checkpoint_key"`

	// RestartBackoff is the fixed delay before reopening a failed change stream
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// OperatorsConfig configures the transform chain.
type OperatorsConfig struct {
	// Filter is an optional CEL expression over `record`; false drops the event
	Filter string `yaml:"filter"`
}

// SinkConfig holds feed projection settings.
type SinkConfig struct {
	// MaxFeedSize caps every per-user ranked set
	MaxFeedSize int `yaml:"max_feed_size"`

	// PostTTL is the expiry of cached post documents
	PostTTL time.Duration `yaml:"post_ttl"`

	// DefaultPageSize is used when a reader asks for limit <= 0
	DefaultPageSize int `yaml:"default_page_size"`
}

// NotifyConfig configures feed notifications over NATS JetStream.
// Notifications are disabled when URL is empty.
type NotifyConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// Enabled reports whether notifications should be published.
func (c NotifyConfig) Enabled() bool {
	return c.URL != ""
}

// HealthConfig holds the health and metrics endpoint configuration.
type HealthConfig struct {
	Address     string `yaml:"address"`
	Path        string `yaml:"path"`
	MetricsPath string `yaml:"metrics_path"`
}

// DefaultConfig returns sensible defaults for the feed pipeline.
func DefaultConfig() Config {
	return Config{
		Name: "posts",
		Source: SourceConfig{
			Collection:      "posts",
			UsersCollection: "users",
			Operations:      []string{"insert", "update", "delete"},
			CheckpointKey:   "RESUME_TOKEN",
			RestartBackoff:  5 * time.Second,
		},
		Sink: SinkConfig{
			MaxFeedSize:     500,
			PostTTL:         30 * 24 * time.Hour,
			DefaultPageSize: 20,
		},
		Notify: NotifyConfig{
			StreamName:    "FEED",
			SubjectPrefix: "feed",
		},
		Health: HealthConfig{
			Address:     ":8084",
			Path:        "/health",
			MetricsPath: "/metrics",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.Source.Collection == "" {
		c.Source.Collection = defaults.Source.Collection
	}
	if c.Source.UsersCollection == "" {
		c.Source.UsersCollection = defaults.Source.UsersCollection
	}
	if len(c.Source.Operations) == 0 {
		c.Source.Operations = defaults.Source.Operations
	}
	if c.Source.CheckpointKey == "" {
		c.Source.CheckpointKey = defaults.Source.CheckpointKey
	}
	if c.Source.RestartBackoff == 0 {
		c.Source.RestartBackoff = defaults.Source.RestartBackoff
	}
	if c.Sink.MaxFeedSize <= 0 {
		c.Sink.MaxFeedSize = defaults.Sink.MaxFeedSize
	}
	if c.Sink.PostTTL == 0 {
		c.Sink.PostTTL = defaults.Sink.PostTTL
	}
	if c.Sink.DefaultPageSize <= 0 {
		c.Sink.DefaultPageSize = defaults.Sink.DefaultPageSize
	}
	if c.Notify.StreamName == "" {
		c.Notify.StreamName = defaults.Notify.StreamName
	}
	if c.Notify.SubjectPrefix == "" {
		c.Notify.SubjectPrefix = defaults.Notify.SubjectPrefix
	}
	if c.Health.Address == "" {
		c.Health.Address = defaults.Health.Address
	}
	if c.Health.Path == "" {
		c.Health.Path = defaults.Health.Path
	}
	if c.Health.MetricsPath == "" {
		c.Health.MetricsPath = defaults.Health.MetricsPath
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("NATS_URL"); val != "" {
		c.Notify.URL = val
	}
	if val := os.Getenv("POSTFEED_HEALTH_ADDR"); val != "" {
		c.Health.Address = val
	}
}

// ResolvePaths is a no-op; the feed pipeline reads no files.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate validates the feed configuration.
func (c *Config) Validate() error {
	if c.Source.Collection == "" {
		return errors.New("feed.source.collection is required")
	}
	if c.Source.UsersCollection == "" {
		return errors.New("feed.source.users_collection is required")
	}
	if len(c.Source.Operations) == 0 {
		return errors.New("feed.source.operations must list at least one operation")
	}
	for i, op := range c.Source.Operations {
		switch op {
		case "insert", "update", "delete":
		default:
			return fmt.Errorf("feed.source.operations[%d] must be insert, update or delete, got %q", i, op)
		}
	}
	if c.Source.CheckpointKey == "" {
		return errors.New("feed.source.checkpoint_key is required")
	}
	if c.Source.RestartBackoff <= 0 {
		return errors.New("feed.source.restart_backoff must be positive")
	}
	if c.Sink.MaxFeedSize <= 0 {
		return errors.New("feed.sink.max_feed_size must be positive")
	}
	if c.Sink.PostTTL <= 0 {
		return errors.New("feed.sink.post_ttl must be positive")
	}
	if c.Sink.DefaultPageSize <= 0 {
		return errors.New("feed.sink.default_page_size must be positive")
	}
	if c.Notify.Enabled() && c.Notify.StreamName == "" {
		return errors.New("feed.notify.stream_name is required when notifications are enabled")
	}
	if c.Notify.RetryAttempts < 0 {
		return errors.New("feed.notify.retry_attempts must not be negative")
	}
	return nil
}
