// Package config handles minion fabric configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/minionfabric/config.yaml, /config/config.yaml,
// /etc/minionfabric/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "minionfabric", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/minionfabric/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can substitute a sandboxed
// search order without touching the real filesystem.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all minion fabric configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Storage    StorageConfig    `yaml:"storage"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Minions    []MinionConfig   `yaml:"minions"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the WebSocket bridge's bind address.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// StorageConfig selects the repository backing store.
type StorageConfig struct {
	// Driver is "memory", "sqlite3" (cgo, mattn/go-sqlite3), or
	// "sqlite" (pure-Go, modernc.org/sqlite).
	Driver string `yaml:"driver"`
	// Path is the SQLite database file path; ignored for "memory".
	Path string `yaml:"path"`
}

// EventBusConfig tunes the Event Bus's defaults.
type EventBusConfig struct {
	DefaultRateLimit int `yaml:"default_rate_limit"`
	HistoryLimit     int `yaml:"history_limit"`
}

// MinionConfig is one minion's persona and model configuration, as
// loaded from YAML before being turned into a coremodel.Minion.
type MinionConfig struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	BasePersonality string   `yaml:"base_personality"`
	Quirks          []string `yaml:"quirks"`
	Catchphrases    []string `yaml:"catchphrases"`
	ExpertiseAreas  []string `yaml:"expertise_areas"`
	AllowedTools    []string `yaml:"allowed_tools"`
	ModelName       string   `yaml:"model_name"`
	Temperature     float64  `yaml:"temperature"`
	MaxTokens       int      `yaml:"max_tokens"`
	Channels        []string `yaml:"channels"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${DB_PATH}). This is
	// a convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "minionfabric.db")
	}
	if c.EventBus.DefaultRateLimit == 0 {
		c.EventBus.DefaultRateLimit = 10
	}
	if c.EventBus.HistoryLimit == 0 {
		c.EventBus.HistoryLimit = 1000
	}
	for i := range c.Minions {
		if c.Minions[i].Temperature == 0 {
			c.Minions[i].Temperature = 0.9
		}
		if c.Minions[i].MaxTokens == 0 {
			c.Minions[i].MaxTokens = 1024
		}
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite3", "sqlite":
	default:
		return fmt.Errorf("storage.driver %q not one of memory|sqlite3|sqlite", c.Storage.Driver)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Minions))
	for _, m := range c.Minions {
		if m.ID == "" {
			return fmt.Errorf("minion config missing id (name=%q)", m.Name)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate minion id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("minion %q: temperature %f out of range [0,2]", m.ID, m.Temperature)
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development with the in-memory repositories. All defaults are
// already applied.
func Default() *Config {
	cfg := &Config{
		Minions: []MinionConfig{
			{
				ID:              "aria",
				Name:            "Aria",
				BasePersonality: "an upbeat, detail-oriented coordinator",
				Quirks:          []string{"ends messages with a small checklist"},
				Catchphrases:    []string{"let's get this squared away"},
				ModelName:       "default",
				Channels:        []string{"general"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
