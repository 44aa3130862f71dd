// Package config loads the YAML configuration shared by the gojostore
// commands.
package config

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/sushant-115/gojostore/pkg/logger"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StoreConfig locates the store files and sizes the page cache.
type StoreConfig struct {
	// Path is the file prefix of the store (Path.db, Path.log, Path.xid).
	Path string `yaml:"path"`
	// Memory is the page cache budget, e.g. "64MiB".
	Memory string `yaml:"memory"`
}

// ServerConfig configures the command server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RequestsPerSecond limits each session. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:   "gojostore",
			Memory: "64MiB",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:9999",
			RequestsPerSecond: 1000,
			Burst:             100,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:          false,
			ServiceName:      "gojostore",
			PrometheusPort:   9464,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path on top of the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that can not be defaulted.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if _, err := c.Store.MemoryBytes(); err != nil {
		return err
	}
	if c.Server.RequestsPerSecond < 0 {
		return fmt.Errorf("server.requests_per_second must not be negative")
	}
	return nil
}

// MemoryBytes parses Memory as a binary size.
func (s StoreConfig) MemoryBytes() (int64, error) {
	n, err := units.RAMInBytes(s.Memory)
	if err != nil {
		return 0, fmt.Errorf("invalid store.memory %q: %w", s.Memory, err)
	}
	return n, nil
}
