// ABOUTME: Configuration loading and parsing for brain-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete brain-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Charts     ChartsConfig     `yaml:"charts"`
	Stream     StreamConfig     `yaml:"stream"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GenerationConfig holds generation service configuration
type GenerationConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	MaxTokens      int    `yaml:"max_tokens"`
	ConnectRetries int    `yaml:"connect_retries"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// ChartsConfig holds chart service configuration
type ChartsConfig struct {
	BaseURL      string `yaml:"base_url"`
	GateWidth    int    `yaml:"gate_width"`
	GlobalBudget int    `yaml:"global_budget"`

	CallTimeout time.Duration `yaml:"-"`

	CallTimeoutRaw string `yaml:"call_timeout"`
}

// StreamConfig holds event stream configuration
type StreamConfig struct {
	BufferSize int `yaml:"buffer_size"`

	HeartbeatInterval time.Duration `yaml:"-"`

	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// SessionConfig holds turn lifecycle configuration
type SessionConfig struct {
	HistoryLimit int `yaml:"history_limit"`

	MaxTurnDuration time.Duration `yaml:"-"`

	MaxTurnDurationRaw string `yaml:"max_turn_duration"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Generation.BaseURL == "" {
		return fmt.Errorf("generation.base_url is required")
	}
	if c.Charts.BaseURL == "" {
		return fmt.Errorf("charts.base_url is required")
	}
	if c.Charts.GateWidth < 0 {
		return fmt.Errorf("charts.gate_width must not be negative")
	}
	if c.Charts.GlobalBudget < 0 {
		return fmt.Errorf("charts.global_budget must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Charts.CallTimeoutRaw != "" {
		cfg.Charts.CallTimeout, err = time.ParseDuration(cfg.Charts.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing charts.call_timeout %q: %w", cfg.Charts.CallTimeoutRaw, err)
		}
	}

	if cfg.Stream.HeartbeatIntervalRaw != "" {
		cfg.Stream.HeartbeatInterval, err = time.ParseDuration(cfg.Stream.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing stream.heartbeat_interval %q: %w", cfg.Stream.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Session.MaxTurnDurationRaw != "" {
		cfg.Session.MaxTurnDuration, err = time.ParseDuration(cfg.Session.MaxTurnDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing session.max_turn_duration %q: %w", cfg.Session.MaxTurnDurationRaw, err)
		}
	}

	return nil
}
