package config

import "fmt"

// ServiceConfig defines the standard configuration lifecycle methods.
// Each section of Config implements it so loading is uniform.
type ServiceConfig interface {
	// ApplyDefaults fills zero values with sensible defaults
	ApplyDefaults()

	// ApplyEnvOverrides applies environment variable overrides
	ApplyEnvOverrides()

	// ResolvePaths resolves relative paths against the config directory.
	ResolvePaths(configDir string)

	// Validate returns an error if the configuration is invalid.
	Validate() error
}

// Section is a ServiceConfig together with the YAML key it is loaded from.
type Section struct {
	Name   string
	Config ServiceConfig
}

// ApplyServiceConfigs applies the configuration lifecycle to every section.
// It calls ApplyDefaults, ApplyEnvOverrides, ResolvePaths, and Validate in
// order and stops at the first invalid section.
func ApplyServiceConfigs(configDir string, sections ...Section) error {
	for _, s := range sections {
		s.Config.ApplyDefaults()
		s.Config.ApplyEnvOverrides()
		s.Config.ResolvePaths(configDir)
		if err := s.Config.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}
