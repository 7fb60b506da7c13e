// ABOUTME: Configuration loading and parsing for agentlens
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyPrefix is the prefix every collector credential carries.
const APIKeyPrefix = "alk_"

// Defaults applied to optional fields.
const (
	DefaultRequestTimeout        = 10 * time.Second
	DefaultSyncInterval          = 86400 * time.Second
	DefaultRegisterFallbackDelay = 5 * time.Second
	DefaultMaxRegisterAttempts   = 3
	DefaultErrorBufferSize       = 10
	DefaultDedupeTTL             = 10 * time.Minute
	DefaultAgentType             = "openclaw"
	DefaultMetricsPath           = "/metrics"
)

// ErrMissingAPIKey indicates the collector credential is absent.
var ErrMissingAPIKey = errors.New("collector.api_key is required")

// ErrInvalidAPIKey indicates the collector credential does not carry APIKeyPrefix.
var ErrInvalidAPIKey = fmt.Errorf("collector.api_key must start with %q", APIKeyPrefix)

// Config represents the complete agentlens configuration
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Agent     AgentConfig     `yaml:"agent"`
	Sync      SyncConfig      `yaml:"sync"`
	Host      HostConfig      `yaml:"host"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// CollectorConfig describes the remote telemetry collector
type CollectorConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// AgentConfig holds the identity declared at registration
type AgentConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Workspace string `yaml:"workspace"`
}

// SyncConfig holds registration and resync timing
type SyncConfig struct {
	Interval              time.Duration `yaml:"-"`
	RegisterFallbackDelay time.Duration `yaml:"-"`
	DedupeTTL             time.Duration `yaml:"-"`
	MaxRegisterAttempts   int           `yaml:"max_register_attempts"`
	ErrorBufferSize       int           `yaml:"error_buffer_size"`

	// Raw string values for YAML unmarshaling
	IntervalRaw              string `yaml:"interval"`
	RegisterFallbackDelayRaw string `yaml:"register_fallback_delay"`
	DedupeTTLRaw             string `yaml:"dedupe_ttl"`
}

// HostConfig points at the host gateway's own configuration file
type HostConfig struct {
	ConfigPath string `yaml:"config_path"`
}

// SanitizeConfig extends the built-in secret key list
type SanitizeConfig struct {
	ExtraSecretKeys []string `yaml:"extra_secret_keys"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// TracingConfig holds OTLP exporter configuration.
// An empty OTLPEndpoint leaves the global no-op tracer provider in place.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes raw YAML into a Config with durations parsed and defaults applied.
// It does not validate; callers decide whether a bad credential is fatal.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()
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

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Collector.RequestTimeout <= 0 {
		c.Collector.RequestTimeout = DefaultRequestTimeout
	}
	c.Collector.Endpoint = strings.TrimSuffix(c.Collector.Endpoint, "/")

	if c.Agent.Type == "" {
		c.Agent.Type = DefaultAgentType
	}
	if c.Agent.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Agent.Name = host
		} else {
			c.Agent.Name = "agentlens"
		}
	}

	if c.Sync.Interval <= 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Sync.RegisterFallbackDelay <= 0 {
		c.Sync.RegisterFallbackDelay = DefaultRegisterFallbackDelay
	}
	if c.Sync.DedupeTTL <= 0 {
		c.Sync.DedupeTTL = DefaultDedupeTTL
	}
	if c.Sync.MaxRegisterAttempts <= 0 {
		c.Sync.MaxRegisterAttempts = DefaultMaxRegisterAttempts
	}
	if c.Sync.ErrorBufferSize <= 0 {
		c.Sync.ErrorBufferSize = DefaultErrorBufferSize
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Collector.Endpoint == "" {
		return fmt.Errorf("collector.endpoint is required")
	}
	u, err := url.Parse(c.Collector.Endpoint)
	if err != nil {
		return fmt.Errorf("collector.endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("collector.endpoint must use http or https scheme")
	}

	if err := ValidateAPIKey(c.Collector.APIKey); err != nil {
		return err
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// ValidateAPIKey applies the credential prefix convention.
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return ErrInvalidAPIKey
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"request_timeout", cfg.Collector.RequestTimeoutRaw, &cfg.Collector.RequestTimeout},
		{"interval", cfg.Sync.IntervalRaw, &cfg.Sync.Interval},
		{"register_fallback_delay", cfg.Sync.RegisterFallbackDelayRaw, &cfg.Sync.RegisterFallbackDelay},
		{"dedupe_ttl", cfg.Sync.DedupeTTLRaw, &cfg.Sync.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
