// Package config handles configuration loading for agentlens.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Optional fields receive defaults; Validate enforces the
// collector endpoint and the credential prefix convention.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTLENS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentlens/config.yaml
//  3. ~/.config/agentlens/config.yaml
//
// # Environment Variable Expansion
//
//	collector:
//	  api_key: "${AGENTLENS_API_KEY}"
//
// # Configuration Sections
//
// Collector:
//
//	collector:
//	  endpoint: "https://collector.example.com/api/v1"
//	  api_key: "${AGENTLENS_API_KEY}"   # must start with "alk_"
//	  request_timeout: "10s"
//
// Registration and sync:
//
//	sync:
//	  interval: "24h"
//	  register_fallback_delay: "5s"
//	  max_register_attempts: 3
//	  error_buffer_size: 10
//	  dedupe_ttl: "10m"
//
// Host gateway configuration snapshot (json, yaml or toml):
//
//	host:
//	  config_path: "/home/me/.openclaw/openclaw.json"
//
// Logging, metrics and tracing:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  addr: "127.0.0.1:9464"
//	tracing:
//	  otlp_endpoint: "localhost:4318"
package config
