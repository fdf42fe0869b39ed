// Package config handles configuration loading from YAML, CLI flags, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	DatabasePath   string                 `yaml:"database_path"`
	DefaultProject string                 `yaml:"default_project"`
	Dashboard      string                 `yaml:"dashboard"` // dashboard listen address
	Proxy          ProxyConfig            `yaml:"proxy"`
	Budgets        BudgetConfig           `yaml:"budgets"`
	CustomModels   map[string]CustomModel `yaml:"custom_models,omitempty"`
}

// ProxyConfig configures the forwarding proxy.
type ProxyConfig struct {
	Listen   string `yaml:"listen"`   // e.g., "127.0.0.1:8800"
	Host     string `yaml:"host"`     // Bind host
	Port     int    `yaml:"port"`     // Bind port (alternative to listen)
	Upstream string `yaml:"upstream"` // Fixed upstream API host
}

// BudgetConfig holds spend limits in dollars per period.
type BudgetConfig struct {
	Daily   float64 `yaml:"daily"`
	Weekly  float64 `yaml:"weekly"`
	Monthly float64 `yaml:"monthly"`
}

// CustomModel is a user-supplied pricing entry. Prices are per 1M tokens.
type CustomModel struct {
	Provider         string  `yaml:"provider"`
	InputPerMillion  float64 `yaml:"input"`
	OutputPerMillion float64 `yaml:"output"`
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultProject: "default",
		Dashboard:      "127.0.0.1:8801",
		Proxy: ProxyConfig{
			Listen:   "127.0.0.1:8800",
			Upstream: "api.openai.com",
		},
		Budgets: BudgetConfig{
			Daily:   5.00,
			Weekly:  25.00,
			Monthly: 100.00,
		},
	}
}

// ConfigDir returns the platform-specific config directory.
func ConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "tokenwatch"), nil
	default: // linux, darwin, etc.
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, ".tokenwatch"), nil
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tokenwatch.db"), nil
}

// Load loads configuration from file, with environment variable overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dbPath, err := DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default db path: %w", err)
	}
	cfg.DatabasePath = dbPath

	if path == "" {
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting default config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the config to the specified path with secure permissions.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TOKENWATCH_LISTEN"); v != "" {
		c.Proxy.Listen = v
	}
	if v := os.Getenv("TOKENWATCH_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("TOKENWATCH_DASHBOARD"); v != "" {
		c.Dashboard = v
	}
	if v := os.Getenv("TOKENWATCH_UPSTREAM"); v != "" {
		c.Proxy.Upstream = v
	}
	if v := os.Getenv("TOKENWATCH_PROJECT"); v != "" {
		c.DefaultProject = v
	}
}

// ListenAddr returns the listen address, handling host:port vs listen field.
func (c *ProxyConfig) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 8800
	}
	return fmt.Sprintf("%s:%d", host, port)
}
