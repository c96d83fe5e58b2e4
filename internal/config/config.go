package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	feed "github.com/syntrixbase/postfeed/internal/feed/config"
	storage "github.com/syntrixbase/postfeed/internal/storage/config"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Storage storage.Config `yaml:"storage"`
	Feed    feed.Config    `yaml:"feed"`
}

// DefaultConfig returns the configuration used when no file overrides anything.
func DefaultConfig() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Storage: storage.DefaultConfig(),
		Feed:    feed.DefaultConfig(),
	}
}

// LoadConfig loads configuration from files and environment variables
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults -> ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	// 1. Start with default values (so YAML can override them, including bool fields)
	cfg := DefaultConfig()

	// 2. Load config.yml (overrides defaults)
	loadFile(filepath.Join(configDir, "config.yml"), cfg)

	// 3. Load config.local.yml (overrides config.yml)
	loadFile(filepath.Join(configDir, "config.local.yml"), cfg)

	// 4. Defaults -> env -> paths -> validate, per section
	if err := ApplyServiceConfigs(configDir, cfg.sections()...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates every section.
func (c *Config) Validate() error {
	for _, s := range c.sections() {
		if err := s.Config.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

func (c *Config) sections() []Section {
	return []Section{
		{Name: "logging", Config: &c.Logging},
		{Name: "storage", Config: &c.Storage},
		{Name: "feed", Config: &c.Feed},
	}
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return // File doesn't exist, skip
		}
		slog.Warn("error reading config file", "file", filename, "error", err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("error parsing config file", "file", filename, "error", err)
	}
}
