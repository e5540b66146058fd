// Package config loads the engine's static configuration from a YAML
// file, following the flat-struct-plus-tags convention the rest of the
// codebase uses for its own wire/storage types.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for one fsmirrord process.
type Config struct {
	DataDir          string        `yaml:"data_dir"`
	LocalClusterID   string        `yaml:"local_cluster_id"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout"`
	BlocklistCommand []string      `yaml:"blocklist_command"`
	LogLevel         string        `yaml:"log_level"`
	LogJSON          bool          `yaml:"log_json"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Filesystems      []string      `yaml:"filesystems"`
}

// Default returns a Config with every field set to the value the
// engine uses when the YAML file omits it.
func Default() Config {
	return Config{
		DataDir:          "/var/lib/fsmirrord",
		ThrottleInterval: time.Second,
		NotifyTimeout:    30 * time.Second,
		LogLevel:         "info",
		MetricsAddr:      "127.0.0.1:9090",
	}
}

// Load reads and parses a YAML configuration file, filling unset fields
// from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = time.Second
	}
	if len(cfg.Filesystems) == 0 {
		return Config{}, fmt.Errorf("config must list at least one filesystem")
	}
	return cfg, nil
}
