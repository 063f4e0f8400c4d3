// Package config loads the engine/server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Scheduler struct {
	Workers int `yaml:"workers"`
}

type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen"`
	// DefaultPeriodMS is the emission period of windowed operators when a
	// query carries none, in milliseconds.
	DefaultPeriodMS int       `yaml:"default_period_ms"`
	Scheduler       Scheduler `yaml:"scheduler"`
	// Probes are pre-registered at startup; more can be created through
	// the API.
	Probes []string `yaml:"probes"`
}

func Default() Config {
	return Config{
		Listen:          "localhost:8080",
		DefaultPeriodMS: 100,
		Scheduler:       Scheduler{Workers: 4},
	}
}

// Load reads a YAML config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = Default().Listen
	}
	if cfg.DefaultPeriodMS <= 0 {
		cfg.DefaultPeriodMS = Default().DefaultPeriodMS
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = Default().Scheduler.Workers
	}
	return cfg, nil
}

// DefaultPeriod is DefaultPeriodMS as a duration.
func (c Config) DefaultPeriod() time.Duration {
	return time.Duration(c.DefaultPeriodMS) * time.Millisecond
}
