// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all plantree configuration.
type Config struct {
	Server Server `yaml:"server"`
	Tree   Tree   `yaml:"tree"`
	Log    Log    `yaml:"log"`
}

// Server holds the Nitrate connection settings.
type Server struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Tree holds plan tree loading settings.
type Tree struct {
	ExpandConcurrency int `yaml:"expand_concurrency"` // Parallel fetches during expand-all
	ExpandDepth       int `yaml:"expand_depth"`       // 0 = unlimited
}

// Log holds logger settings.
type Log struct {
	Level string `yaml:"level"` // "debug" | "info" | "warn" | "error"
	File  string `yaml:"file"`  // Empty = stderr for commands, discarded for the TUI
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			URL:     "http://localhost:8000/",
			Timeout: 30 * time.Second,
		},
		Tree: Tree{
			ExpandConcurrency: 4,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// UserPath returns the per-user config file location.
func UserPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "plantree", "config.yaml")
}

// ProjectPath is the config file looked up in the working directory.
const ProjectPath = ".plantree/config.yaml"

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
func Load(path string) (*Config, error) {
	return LoadLayered(path)
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files and empty paths are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("config: server.url cannot be empty")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: server.url must be an http(s) URL, got %q", c.Server.URL)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("config: server.timeout must be positive, got %v", c.Server.Timeout)
	}
	if c.Tree.ExpandConcurrency < 1 {
		return fmt.Errorf("config: tree.expand_concurrency must be at least 1, got %d", c.Tree.ExpandConcurrency)
	}
	if c.Tree.ExpandDepth < 0 {
		return fmt.Errorf("config: tree.expand_depth must be non-negative, got %d", c.Tree.ExpandDepth)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("config: log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: PLANTREE_SERVER_URL, PLANTREE_TIMEOUT,
// PLANTREE_EXPAND_CONCURRENCY, PLANTREE_LOG_LEVEL, PLANTREE_LOG_FILE.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PLANTREE_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("PLANTREE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid PLANTREE_TIMEOUT %q: %w", v, err)
		}
		c.Server.Timeout = d
	}
	if v := os.Getenv("PLANTREE_EXPAND_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PLANTREE_EXPAND_CONCURRENCY %q: %w", v, err)
		}
		c.Tree.ExpandConcurrency = n
	}
	if v := os.Getenv("PLANTREE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PLANTREE_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Server *rawServer `yaml:"server"`
	Tree   *rawTree   `yaml:"tree"`
	Log    *rawLog    `yaml:"log"`
}

type rawServer struct {
	URL     *string        `yaml:"url"`
	Timeout *time.Duration `yaml:"timeout"`
}

type rawTree struct {
	ExpandConcurrency *int `yaml:"expand_concurrency"`
	ExpandDepth       *int `yaml:"expand_depth"`
}

type rawLog struct {
	Level *string `yaml:"level"`
	File  *string `yaml:"file"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if s := layer.Server; s != nil {
		if s.URL != nil {
			c.Server.URL = *s.URL
		}
		if s.Timeout != nil {
			c.Server.Timeout = *s.Timeout
		}
	}
	if t := layer.Tree; t != nil {
		if t.ExpandConcurrency != nil {
			c.Tree.ExpandConcurrency = *t.ExpandConcurrency
		}
		if t.ExpandDepth != nil {
			c.Tree.ExpandDepth = *t.ExpandDepth
		}
	}
	if l := layer.Log; l != nil {
		if l.Level != nil {
			c.Log.Level = *l.Level
		}
		if l.File != nil {
			c.Log.File = *l.File
		}
	}
}
