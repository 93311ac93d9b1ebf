package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syncbridge/syncbridge/pkg/types"
)

// RedisConfig locates the backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full service configuration. Providers listed here are
// registered at startup; more can be added over the API at runtime.
type Config struct {
	Redis     RedisConfig            `yaml:"redis"`
	Workers   int                    `yaml:"workers"`
	Listen    string                 `yaml:"listen"`
	Log       LogConfig              `yaml:"log"`
	Providers []types.ProviderConfig `yaml:"providers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Workers: 4,
		Listen:  ":8080",
		Log:     LogConfig{Level: "info", JSON: true},
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a typo would most likely break.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Normalize()
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %d (%s): %w", i, p.Name, err)
		}
	}
	return nil
}
