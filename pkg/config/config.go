// Package config provides configuration loading and management for dcmreface.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Builder backends accepted in Conversion.Builder
const (
	BuilderNative   = "native"
	BuilderDcm2niix = "dcm2niix"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Geometry parameters used when comparing slice spacings
	Geometry struct {
		// RelTolerance is the relative tolerance of the spacing comparison
		RelTolerance float64 `yaml:"relTolerance"`

		// AbsTolerance is the absolute tolerance of the spacing comparison in mm
		AbsTolerance float64 `yaml:"absTolerance"`

		// MinRunLength is the smallest slice run accepted by the rescue
		MinRunLength int `yaml:"minRunLength"`
	} `yaml:"geometry"`

	// Conversion parameters
	Conversion struct {
		// Builder selects the volume builder backend: native or dcm2niix
		Builder string `yaml:"builder"`

		// Dcm2niixPath is the dcm2niix executable used by the dcm2niix backend
		Dcm2niixPath string `yaml:"dcm2niixPath"`

		// RelTolerance and AbsTolerance bound how far slice increments and
		// pixel spacings may differ inside one native volume
		RelTolerance float64 `yaml:"relTolerance"`
		AbsTolerance float64 `yaml:"absTolerance"`
	} `yaml:"conversion"`

	// Launcher patch parameters
	Launcher struct {
		// Patch enables the platform flag injection into the launcher script
		Patch bool `yaml:"patch"`

		// PlatformFlag is the flag that must be present in the launcher
		PlatformFlag string `yaml:"platformFlag"`

		// TargetLine is the container invocation the flag is inserted into
		TargetLine string `yaml:"targetLine"`
	} `yaml:"launcher"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// MetricsTextfile is where batch metrics are written, empty to disable
		MetricsTextfile string `yaml:"metricsTextfile"`

		// Previews enables mid-slice JPEG previews of converted volumes
		Previews bool `yaml:"previews"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// numpy.isclose defaults
	cfg.Geometry.RelTolerance = 1e-5
	cfg.Geometry.AbsTolerance = 1e-8
	cfg.Geometry.MinRunLength = 5

	cfg.Conversion.Builder = BuilderNative
	cfg.Conversion.Dcm2niixPath = "dcm2niix"
	cfg.Conversion.RelTolerance = 0.05
	cfg.Conversion.AbsTolerance = 0.1

	cfg.Launcher.Patch = true
	cfg.Launcher.PlatformFlag = "--platform linux/amd64"
	cfg.Launcher.TargetLine = "docker run --rm -ti --mount"

	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Geometry.MinRunLength < 2 {
		return fmt.Errorf("geometry.minRunLength must be at least 2, got %d", c.Geometry.MinRunLength)
	}
	if c.Geometry.RelTolerance < 0 || c.Geometry.AbsTolerance < 0 {
		return fmt.Errorf("geometry tolerances must be non-negative")
	}
	if c.Conversion.RelTolerance < 0 || c.Conversion.AbsTolerance < 0 {
		return fmt.Errorf("conversion tolerances must be non-negative")
	}
	switch c.Conversion.Builder {
	case BuilderNative, BuilderDcm2niix:
	default:
		return fmt.Errorf("unknown conversion.builder %q", c.Conversion.Builder)
	}
	switch c.Output.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output.logFormat %q", c.Output.LogFormat)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
