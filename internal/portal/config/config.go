// Package config provides configuration loading for the portal.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds all portal configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// Data directory for SQLite databases (default "/var/lib/railportal")
	DataDir string `json:"data_dir"`

	// TLS settings
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`

	// Auth
	AuthEnabled bool `json:"auth_enabled"`
	// Session lifetime, in hours (default 24)
	SessionLifetimeHours int `json:"session_lifetime_hours"`

	// Indian Rail API settings
	RailAPI RailAPIConfig `json:"rail_api,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`

	// Retention for crowd density rows, in hours (default 72)
	CrowdRetentionHours int `json:"crowd_retention_hours"`
}

// RailAPIConfig configures the external live-train data provider.
type RailAPIConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:           ":8080",
		DataDir:              "/var/lib/railportal",
		AuthEnabled:          true,
		SessionLifetimeHours: 24,
		LogLevel:             "info",
		CrowdRetentionHours:  72,
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	// Load from file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("RAILPORTAL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RAILPORTAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RAILPORTAL_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("RAILPORTAL_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("RAILPORTAL_AUTH"); v != "" {
		cfg.AuthEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RAILPORTAL_RAIL_API_BASE_URL"); v != "" {
		cfg.RailAPI.BaseURL = v
	}
	if v := os.Getenv("RAILPORTAL_RAIL_API_KEY"); v != "" {
		cfg.RailAPI.APIKey = v
	}
	if v := os.Getenv("RAILPORTAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RAILPORTAL_SESSION_LIFETIME_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionLifetimeHours = n
		}
	}
	if v := os.Getenv("RAILPORTAL_CROWD_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CrowdRetentionHours = n
		}
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasTLS returns true if TLS is configured.
func (c Config) HasTLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// HasRailAPI returns true if the live-train provider is configured.
func (c Config) HasRailAPI() bool {
	return c.RailAPI.APIKey != ""
}
