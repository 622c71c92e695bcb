// Package config handles configuration loading for brain-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BRAIN_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/brain/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	generation:
//	  api_key: "${BRAIN_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	generation:
//	  timeout: "30s"
//	charts:
//	  call_timeout: "5s"
//	session:
//	  max_turn_duration: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/brain/gateway.db"
//
// Generation service:
//
//	generation:
//	  base_url: "https://dashscope.aliyuncs.com/compatible-mode/v1"
//	  api_key: "${BRAIN_API_KEY}"
//	  model: "qwen-max"
//	  max_tokens: 4096
//	  timeout: "30s"
//	  connect_retries: 1
//
// Chart service:
//
//	charts:
//	  base_url: "http://localhost:3001"
//	  call_timeout: "5s"
//	  gate_width: 5
//	  global_budget: 25
//
// Event stream:
//
//	stream:
//	  heartbeat_interval: "30s"
//	  buffer_size: 64
//
// Session:
//
//	session:
//	  max_turn_duration: "90s"
//	  history_limit: 10
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Required addresses and paths are present
//   - Duration format validity
//   - Concurrency limits are non-negative
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/brain/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
