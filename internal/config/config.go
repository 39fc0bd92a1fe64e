package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the pipeline settings for one working directory.
type Config struct {
	// WorkDir is where the index, conversion artifacts and prepared
	// datasets live.
	WorkDir string `yaml:"workdir"`

	// Inputs are the source directories ingested on each run.
	Inputs []string `yaml:"inputs"`

	// KeepNewest switches the conflicting-duplicate policy from
	// keep-both-shadowed to keep-newest-primary.
	KeepNewest bool `yaml:"keep_newest"`

	// Quiet suppresses progress output on stdout.
	Quiet bool `yaml:"quiet"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{WorkDir: "."}
}

// Validate checks the loaded configuration for usable values.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("workdir must not be empty")
	}
	for _, in := range c.Inputs {
		if in == "" {
			return fmt.Errorf("inputs must not contain empty entries")
		}
	}
	return nil
}

// LoadFromYAML reads and validates a configuration file.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// SaveToYAML writes the configuration, so a CLI invocation can be
// replayed from a file later.
func SaveToYAML(c *Config, path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
