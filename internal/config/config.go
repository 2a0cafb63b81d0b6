package config

import (
	"fmt"
	"time"
)

// Config represents the main engine configuration
type Config struct {
	// Tool catalog file (JSON array of tool definitions)
	CatalogPath string `json:"catalog_path" mapstructure:"catalog_path"`

	// Server profile file (JSON array of server profiles)
	ServersPath string `json:"servers_path" mapstructure:"servers_path"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Shell used for local execution
	Shell string `json:"shell" mapstructure:"shell"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Approval workflow configuration
	Approval ApprovalConfig `json:"approval" mapstructure:"approval"`

	// Execution history configuration
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Hot reload of the catalog file
	WatchCatalog bool `json:"watch_catalog" mapstructure:"watch_catalog"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port  int    `json:"port" mapstructure:"port"`
	Token string `json:"token" mapstructure:"token"`

	// Per-connection limits; zero applies the built-in defaults.
	RequestsPerMinute int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxInFlight       int `json:"max_in_flight" mapstructure:"max_in_flight"`
}

// ApprovalConfig holds approval workflow configuration
type ApprovalConfig struct {
	TTLSeconds           int `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" mapstructure:"sweep_interval_seconds"`
}

// TTL returns the pending approval lifetime as a duration
func (a ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLSeconds) * time.Second
}

// SweepInterval returns the eviction interval as a duration
func (a ApprovalConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

// HistoryConfig holds execution history configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Shell:        "sh",
		WatchCatalog: true,
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port: 8790,
		},
		Approval: ApprovalConfig{
			TTLSeconds:           300,
			SweepIntervalSeconds: 60,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for problems
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Approval.TTLSeconds <= 0 {
		return fmt.Errorf("approval ttl must be positive")
	}
	if c.Approval.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("approval sweep interval must be positive")
	}
	return nil
}
