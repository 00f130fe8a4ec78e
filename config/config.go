// Package config defines the on-disk configuration for reflow and builds
// the runtime components (cache, journal, logger) it describes.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the top-level reflow configuration
type Config struct {
	MaxRetries  int             `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Concurrency int             `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	LogLevel    string          `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Transport   TransportConfig `yaml:"transport,omitempty" json:"transport,omitempty"`
	Cache       CacheConfig     `yaml:"cache,omitempty" json:"cache,omitempty"`
	Journal     JournalConfig   `yaml:"journal,omitempty" json:"journal,omitempty"`
}

// TransportConfig configures the transport retry behavior of runners
type TransportConfig struct {
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	BaseWait   time.Duration `yaml:"base_wait,omitempty" json:"base_wait,omitempty"`
	MaxWait    time.Duration `yaml:"max_wait,omitempty" json:"max_wait,omitempty"`
}

// CacheConfig selects and configures the result cache backend
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	LRUSize int    `yaml:"lru_size,omitempty" json:"lru_size,omitempty"`
}

// JournalConfig selects and configures the run journal backend
type JournalConfig struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		MaxRetries:  5,
		Concurrency: 4,
		LogLevel:    "info",
		Transport: TransportConfig{
			MaxRetries: 5,
			BaseWait:   1 * time.Second,
			MaxWait:    30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
		},
		Journal: JournalConfig{
			Backend: "file",
			Path:    defaultJournalPath(),
		},
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".reflow", "runs")
	}
	return filepath.Join(home, ".reflow", "runs")
}

// Load reads a configuration file. The extension determines the format:
// .json for JSON, .yml or .yaml for YAML. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	config := Default()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		err = json.Unmarshal(data, config)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to a file, format chosen by extension
func (c *Config) Save(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error
	switch ext {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yml", ".yaml":
		data, err = yaml.Marshal(c)
	default:
		return fmt.Errorf("unsupported file extension: %s", ext)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Write encodes the configuration to a writer in YAML format
func (c *Config) Write(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(c)
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	switch c.Cache.Backend {
	case "", "memory", "file", "sqlite":
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}
	if (c.Cache.Backend == "file" || c.Cache.Backend == "sqlite") && c.Cache.Path == "" {
		return fmt.Errorf("cache backend %q requires a path", c.Cache.Backend)
	}
	if c.Cache.LRUSize < 0 {
		return fmt.Errorf("cache lru_size must not be negative")
	}
	switch c.Journal.Backend {
	case "", "null", "file", "sqlite":
	default:
		return fmt.Errorf("invalid journal backend: %s", c.Journal.Backend)
	}
	if (c.Journal.Backend == "file" || c.Journal.Backend == "sqlite") && c.Journal.Path == "" {
		return fmt.Errorf("journal backend %q requires a path", c.Journal.Backend)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	return level == "debug" || level == "info" || level == "warn" || level == "error"
}
