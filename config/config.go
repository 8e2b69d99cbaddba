// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks an unresolvable queue key or binder name.
var ErrConfiguration = errors.New("configuration error")

// BinderTypeRabbit is the only supported binder type.
const BinderTypeRabbit = "rabbit"

// OTLP trace transports.
const (
	OtelProtocolGRPC = "grpc"
	OtelProtocolHTTP = "http"
)

// Config holds all configuration for the queue browser.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Log     LogConfig               `yaml:"log"`
	Browse  BrowseConfig            `yaml:"browse"`
	Audit   AuditConfig             `yaml:"audit"`
	Binders map[string]BinderConfig `yaml:"binders"`
	Queues  map[string]QueueConfig  `yaml:"queues"`
}

// ServerConfig holds HTTP surface and telemetry configuration.
type ServerConfig struct {
	HTTPAddr        string          `yaml:"http_addr"`
	BasePath        string          `yaml:"base_path"`
	HealthAddr      string          `yaml:"health_addr"`
	HealthEnabled   bool            `yaml:"health_enabled"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`

	// OpenTelemetry configuration
	OtelEndpoint        string  `yaml:"otel_endpoint"`
	OtelProtocol        string  `yaml:"otel_protocol"` // grpc, http (traces only)
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// RateLimitConfig throttles the write endpoints per client address.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"` // requests per second
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BrowseConfig holds message browsing settings.
type BrowseConfig struct {
	// Maximum number of characters of a message body shown.
	DisplayLimit int `yaml:"display_limit"`

	// Number of messages scanned when a republish has to rebuild its cache.
	RepublishScanSize int `yaml:"republish_scan_size"`

	// Queue used when a request names no queue. Empty selects the first key.
	DefaultQueue string `yaml:"default_queue"`

	// Header names never shown in message records.
	HeaderDenylist []string `yaml:"header_denylist"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-binder dial circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// AuditConfig selects the audit trail backend.
type AuditConfig struct {
	Type           string `yaml:"type"` // none, memory, badger, sqlite
	MemoryCapacity int    `yaml:"memory_capacity"`
	BadgerDir      string `yaml:"badger_dir"`
	SQLitePath     string `yaml:"sqlite_path"`
}

// BinderConfig is a named broker connection profile.
type BinderConfig struct {
	Type        string        `yaml:"type"`
	Addresses   []string      `yaml:"addresses"` // host:port, dialed in order
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Vhost       string        `yaml:"vhost"`
	TLS         bool          `yaml:"tls"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// QueueConfig is a logical queue bound to a read binder.
type QueueConfig struct {
	ReadName            string `yaml:"read_name"`
	ReadBinderName      string `yaml:"read_binder_name"`
	RepublishName       string `yaml:"republish_name"` // exchange
	RepublishRoutingKey string `yaml:"republish_routing_key"`
	RepublishBinderName string `yaml:"republish_binder_name"`
}

// RepublishBinder returns the binder used for republishing. It falls back to
// the read binder when none is configured.
func (q QueueConfig) RepublishBinder() string {
	if q.RepublishBinderName != "" {
		return q.RepublishBinderName
	}
	return q.ReadBinderName
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			BasePath:        "/virgil",
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:         false,
				Rate:            5,
				Burst:           10,
				CleanupInterval: time.Minute,
			},

			// OpenTelemetry defaults
			OtelEndpoint:        "localhost:4317",
			OtelProtocol:        OtelProtocolGRPC,
			OtelServiceName:     "virgil",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  false,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Browse: BrowseConfig{
			DisplayLimit:      256,
			RepublishScanSize: 200,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Audit: AuditConfig{
			Type:           "memory",
			MemoryCapacity: 1000,
			BadgerDir:      "/tmp/virgil/audit",
			SQLitePath:     "/tmp/virgil/audit.db",
		},
		Binders: map[string]BinderConfig{},
		Queues:  map[string]QueueConfig{},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyBinderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyBinderDefaults() {
	for name, b := range c.Binders {
		if b.Type == "" {
			b.Type = BinderTypeRabbit
		}
		if b.Vhost == "" {
			b.Vhost = "/"
		}
		if b.DialTimeout == 0 {
			b.DialTimeout = 10 * time.Second
		}
		if b.Heartbeat == 0 {
			b.Heartbeat = 60 * time.Second
		}
		c.Binders[name] = b
	}
	for key, q := range c.Queues {
		if q.RepublishRoutingKey == "" {
			q.RepublishRoutingKey = "#"
		}
		c.Queues[key] = q
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr cannot be empty")
	}
	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr required when health is enabled")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Rate <= 0 {
			return fmt.Errorf("server.rate_limit.rate must be positive")
		}
		if c.Server.RateLimit.Burst < 1 {
			return fmt.Errorf("server.rate_limit.burst must be at least 1")
		}
	}

	// OpenTelemetry validation (only if enabled)
	if c.Server.OtelMetricsEnabled || c.Server.OtelTracesEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when telemetry is enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
		switch c.Server.OtelProtocol {
		case "", OtelProtocolGRPC, OtelProtocolHTTP:
		default:
			return fmt.Errorf("server.otel_protocol must be one of: grpc, http")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Browse.DisplayLimit < 1 {
		return fmt.Errorf("browse.display_limit must be at least 1")
	}
	if c.Browse.RepublishScanSize < 1 {
		return fmt.Errorf("browse.republish_scan_size must be at least 1")
	}
	if c.Browse.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("browse.breaker.failure_threshold must be at least 1")
	}
	if c.Browse.DefaultQueue != "" {
		if _, ok := c.Queues[c.Browse.DefaultQueue]; !ok {
			return fmt.Errorf("browse.default_queue %q is not a configured queue", c.Browse.DefaultQueue)
		}
	}

	switch c.Audit.Type {
	case "none", "memory":
	case "badger":
		if c.Audit.BadgerDir == "" {
			return fmt.Errorf("audit.badger_dir required when type is badger")
		}
	case "sqlite":
		if c.Audit.SQLitePath == "" {
			return fmt.Errorf("audit.sqlite_path required when type is sqlite")
		}
	default:
		return fmt.Errorf("audit.type must be one of: none, memory, badger, sqlite")
	}

	for name, b := range c.Binders {
		if b.Type != BinderTypeRabbit {
			return fmt.Errorf("binders.%s.type must be '%s'", name, BinderTypeRabbit)
		}
		if len(b.Addresses) == 0 {
			return fmt.Errorf("binders.%s.addresses cannot be empty", name)
		}
	}

	for key, q := range c.Queues {
		if q.ReadName == "" {
			return fmt.Errorf("queues.%s.read_name cannot be empty", key)
		}
		if _, ok := c.Binders[q.ReadBinderName]; !ok {
			return fmt.Errorf("queues.%s.read_binder_name %q: %w", key, q.ReadBinderName, ErrConfiguration)
		}
		// The default exchange routes by queue name only.
		if q.RepublishName == "" && (q.RepublishRoutingKey == "" || q.RepublishRoutingKey == "#") {
			return fmt.Errorf("queues.%s.republish_name cannot be empty without a republish_routing_key naming a queue", key)
		}
		if q.RepublishBinderName != "" {
			if _, ok := c.Binders[q.RepublishBinderName]; !ok {
				return fmt.Errorf("queues.%s.republish_binder_name %q: %w", key, q.RepublishBinderName, ErrConfiguration)
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Queue resolves a queue key, checking that its read binder exists.
func (c *Config) Queue(key string) (QueueConfig, error) {
	q, ok := c.Queues[key]
	if !ok {
		return QueueConfig{}, fmt.Errorf("queue %q not configured: %w", key, ErrConfiguration)
	}
	if _, ok := c.Binders[q.ReadBinderName]; !ok {
		return QueueConfig{}, fmt.Errorf("queue %q read binder %q not configured: %w", key, q.ReadBinderName, ErrConfiguration)
	}
	return q, nil
}

// BrowseSettings returns the browse section.
func (c *Config) BrowseSettings() BrowseConfig {
	return c.Browse
}

// Binder resolves a binder name.
func (c *Config) Binder(name string) (BinderConfig, error) {
	b, ok := c.Binders[name]
	if !ok {
		return BinderConfig{}, fmt.Errorf("binder %q not configured: %w", name, ErrConfiguration)
	}
	return b, nil
}

// QueueKeys returns the configured queue keys in sorted order.
func (c *Config) QueueKeys() []string {
	keys := make([]string, 0, len(c.Queues))
	for key := range c.Queues {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DefaultQueue returns the queue used when a request names none.
func (c *Config) DefaultQueue() string {
	if c.Browse.DefaultQueue != "" {
		return c.Browse.DefaultQueue
	}
	keys := c.QueueKeys()
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
