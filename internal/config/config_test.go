// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

const validConfig = `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

generation:
  base_url: "https://dashscope.example.com/compatible-mode/v1"
  api_key: "sk-test"
  model: "qwen-max"
  max_tokens: 4096
  timeout: "30s"
  connect_retries: 2

charts:
  base_url: "http://localhost:3001"
  call_timeout: "5s"
  gate_width: 5
  global_budget: 25

stream:
  heartbeat_interval: "30s"
  buffer_size: 64

session:
  max_turn_duration: "90s"
  history_limit: 10

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Generation.Model != "qwen-max" {
		t.Errorf("Generation.Model = %q, want %q", cfg.Generation.Model, "qwen-max")
	}
	if cfg.Generation.Timeout != 30*time.Second {
		t.Errorf("Generation.Timeout = %v, want %v", cfg.Generation.Timeout, 30*time.Second)
	}
	if cfg.Generation.ConnectRetries != 2 {
		t.Errorf("Generation.ConnectRetries = %d, want 2", cfg.Generation.ConnectRetries)
	}

	if cfg.Charts.CallTimeout != 5*time.Second {
		t.Errorf("Charts.CallTimeout = %v, want %v", cfg.Charts.CallTimeout, 5*time.Second)
	}
	if cfg.Charts.GateWidth != 5 {
		t.Errorf("Charts.GateWidth = %d, want 5", cfg.Charts.GateWidth)
	}
	if cfg.Charts.GlobalBudget != 25 {
		t.Errorf("Charts.GlobalBudget = %d, want 25", cfg.Charts.GlobalBudget)
	}

	if cfg.Stream.HeartbeatInterval != 30*time.Second {
		t.Errorf("Stream.HeartbeatInterval = %v, want %v", cfg.Stream.HeartbeatInterval, 30*time.Second)
	}
	if cfg.Session.MaxTurnDuration != 90*time.Second {
		t.Errorf("Session.MaxTurnDuration = %v, want %v", cfg.Session.MaxTurnDuration, 90*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("BRAIN_TEST_API_KEY", "sk-from-env")

	content := strings.Replace(validConfig, `api_key: "sk-test"`, `api_key: "${BRAIN_TEST_API_KEY}"`, 1)
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Generation.APIKey != "sk-from-env" {
		t.Errorf("Generation.APIKey = %q, want %q", cfg.Generation.APIKey, "sk-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	content := strings.Replace(validConfig, `api_key: "sk-test"`, `api_key: "${BRAIN_DEFINITELY_UNSET_VAR}"`, 1)
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Generation.APIKey != "" {
		t.Errorf("Generation.APIKey = %q, want empty", cfg.Generation.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validConfig, `timeout: "30s"`, `timeout: "thirty seconds"`, 1)
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() succeeded with invalid duration")
	}
	if !strings.Contains(err.Error(), "generation.timeout") {
		t.Errorf("error %q does not name the bad field", err)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		remove  string
		wantErr string
	}{
		{"no http addr", `http_addr: "0.0.0.0:8080"`, "server.http_addr"},
		{"no database path", `path: "./test.db"`, "database.path"},
		{"no generation url", `base_url: "https://dashscope.example.com/compatible-mode/v1"`, "generation.base_url"},
		{"no charts url", `base_url: "http://localhost:3001"`, "charts.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := strings.Replace(validConfig, tt.remove, "", 1)
			_, err := Load(writeConfig(t, content))
			if err == nil {
				t.Fatal("Load() succeeded with missing required field")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_NegativeConcurrencyRejected(t *testing.T) {
	content := strings.Replace(validConfig, `gate_width: 5`, `gate_width: -1`, 1)
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() succeeded with negative gate_width")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() succeeded on a missing file")
	}
}

func TestLoad_DurationsOptional(t *testing.T) {
	content := validConfig
	for _, raw := range []string{`timeout: "30s"`, `call_timeout: "5s"`, `heartbeat_interval: "30s"`, `max_turn_duration: "90s"`} {
		content = strings.Replace(content, raw, "", 1)
	}

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Generation.Timeout != 0 {
		t.Errorf("Generation.Timeout = %v, want zero (defaults applied downstream)", cfg.Generation.Timeout)
	}
}
