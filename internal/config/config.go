// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads usageprobe configuration from a YAML file and the
// environment. Environment variables take precedence over the file.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript"
	"github.com/tombee/usageprobe/pkg/usagescript/sandbox"
)

// Config is the complete usageprobe configuration.
type Config struct {
	// Server configures the HTTP API started by `usageprobe serve`.
	Server ServerConfig `yaml:"server"`

	// UsageScript configures the script engine.
	UsageScript UsageScriptConfig `yaml:"usage_script"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Tracing configures span export.
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address. Default: 127.0.0.1:8787
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is the sustained request rate per second for the usage
	// test endpoint. Default: 5
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the request burst allowed above RateLimit. Default: 10
	RateBurst int `yaml:"rate_burst"`

	// MaxBodyBytes caps inbound request bodies. Default: 256 KiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// UsageScriptConfig configures the script engine.
type UsageScriptConfig struct {
	// EgressPolicy is "trusted" or "strict". Empty means unset: trusted,
	// unless the server binds a non-loopback address.
	EgressPolicy string `yaml:"egress_policy"`

	// AllowedHosts restricts outbound requests when non-empty.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// DNSServers are queried instead of the system resolver when set.
	DNSServers []string `yaml:"dns_servers"`

	// MaxRequestBodyBytes caps script request bodies. Default: 65536
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// MaxHeaderCount caps script request headers. Default: 32
	MaxHeaderCount int `yaml:"max_header_count"`

	// AllowRedirects follows redirects, re-validating every hop.
	AllowRedirects bool `yaml:"allow_redirects"`

	// MaxRedirects caps redirect hops. Default: 5
	MaxRedirects int `yaml:"max_redirects"`

	// MaxResponseBytes caps response bodies. Default: 1048576
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// IncludeErrorBody quotes upstream bodies in HTTP errors.
	IncludeErrorBody bool `yaml:"include_error_body"`

	// MaxStackBytes is the interpreter stack budget. Default: 524288
	MaxStackBytes int `yaml:"max_stack_bytes"`

	// MaxMemoryBytes is the interpreter heap ceiling. Default: 33554432
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`

	// UserAgent is sent unless the script sets one.
	UserAgent string `yaml:"user_agent"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is trace, debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is json or text. Default: json
	Format string `yaml:"format"`

	// AddSource adds file and line to log records.
	AddSource bool `yaml:"add_source"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, console or otlp-http. Default: none
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector host:port.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`
}

// Default returns a configuration with default values.
func Default() *Config {
	engine := usagescript.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       5,
			RateBurst:       10,
			MaxBodyBytes:    256 * 1024,
		},
		UsageScript: UsageScriptConfig{
			MaxRequestBodyBytes: engine.MaxRequestBodyBytes,
			MaxHeaderCount:      engine.MaxHeaderCount,
			MaxRedirects:        engine.MaxRedirects,
			MaxResponseBytes:    engine.MaxResponseBytes,
			MaxStackBytes:       engine.MaxStackBytes,
			MaxMemoryBytes:      engine.MaxMemoryBytes,
			UserAgent:           engine.UserAgent,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &probeerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &probeerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// FromEnv loads configuration from environment variables alone.
func FromEnv() (*Config, error) {
	return Load("")
}

// applyDefaults fills zero values left by a partial file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = d.Server.RateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.UsageScript.MaxRequestBodyBytes == 0 {
		c.UsageScript.MaxRequestBodyBytes = d.UsageScript.MaxRequestBodyBytes
	}
	if c.UsageScript.MaxHeaderCount == 0 {
		c.UsageScript.MaxHeaderCount = d.UsageScript.MaxHeaderCount
	}
	if c.UsageScript.MaxResponseBytes == 0 {
		c.UsageScript.MaxResponseBytes = d.UsageScript.MaxResponseBytes
	}
	if c.UsageScript.MaxStackBytes == 0 {
		c.UsageScript.MaxStackBytes = d.UsageScript.MaxStackBytes
	}
	if c.UsageScript.MaxMemoryBytes == 0 {
		c.UsageScript.MaxMemoryBytes = d.UsageScript.MaxMemoryBytes
	}
	if c.UsageScript.UserAgent == "" {
		c.UsageScript.UserAgent = d.UsageScript.UserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables. Malformed
// numbers are ignored and leave the current value in place.
func (c *Config) loadFromEnv() {
	// Script engine
	if val := os.Getenv("USAGE_SCRIPT_EGRESS_POLICY"); val != "" {
		c.UsageScript.EgressPolicy = strings.TrimSpace(val)
	}
	if val := os.Getenv("USAGE_SCRIPT_ALLOWED_HOSTS"); val != "" {
		c.UsageScript.AllowedHosts = splitList(val)
	}
	if val := os.Getenv("USAGE_SCRIPT_DNS_SERVERS"); val != "" {
		c.UsageScript.DNSServers = splitList(val)
	}
	if val := firstEnv("USAGE_SCRIPT_MAX_REQUEST_BODY_BYTES", "USAGE_SCRIPT_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.UsageScript.MaxRequestBodyBytes = n
		}
	}
	if val := os.Getenv("USAGE_SCRIPT_MAX_HEADER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.UsageScript.MaxHeaderCount = n
		}
	}
	if val := os.Getenv("USAGE_SCRIPT_ALLOW_REDIRECTS"); val != "" {
		c.UsageScript.AllowRedirects = truthy(val)
	}
	if val := os.Getenv("USAGE_SCRIPT_MAX_REDIRECTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.UsageScript.MaxRedirects = n
		}
	}
	if val := os.Getenv("USAGE_SCRIPT_MAX_RESPONSE_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.UsageScript.MaxResponseBytes = n
		}
	}
	if val := os.Getenv("USAGE_SCRIPT_MAX_MEMORY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.UsageScript.MaxMemoryBytes = n
		}
	}
	if val := firstEnv("USAGE_SCRIPT_INCLUDE_ERROR_BODY", "USAGE_SCRIPT_INCLUDE_BODY"); val != "" {
		c.UsageScript.IncludeErrorBody = truthy(val)
	}

	// Server
	if val := os.Getenv("USAGEPROBE_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("USAGEPROBE_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = d
		}
	}
	if val := os.Getenv("USAGEPROBE_RATE_LIMIT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Server.RateLimit = f
		}
	}
	if val := os.Getenv("USAGEPROBE_RATE_BURST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Server.RateBurst = n
		}
	}

	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("USAGEPROBE_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if os.Getenv("LOG_SOURCE") == "1" {
		c.Log.AddSource = true
	}

	// Tracing
	if val := os.Getenv("USAGEPROBE_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := security.ParseEgressPolicy(c.UsageScript.EgressPolicy); err != nil {
		return fmt.Errorf("usage_script.egress_policy: %w", err)
	}
	if c.UsageScript.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("usage_script.max_request_body_bytes must be > 0")
	}
	if c.UsageScript.MaxHeaderCount <= 0 {
		return fmt.Errorf("usage_script.max_header_count must be > 0")
	}
	if c.UsageScript.MaxRedirects < 0 {
		return fmt.Errorf("usage_script.max_redirects must be >= 0")
	}
	if c.UsageScript.MaxResponseBytes <= 0 {
		return fmt.Errorf("usage_script.max_response_bytes must be > 0")
	}
	if c.UsageScript.MaxStackBytes < 0 {
		return fmt.Errorf("usage_script.max_stack_bytes must be >= 0")
	}
	if c.UsageScript.MaxMemoryBytes < 0 {
		return fmt.Errorf("usage_script.max_memory_bytes must be >= 0")
	}
	for _, s := range c.UsageScript.DNSServers {
		if s == "" {
			return fmt.Errorf("usage_script.dns_servers contains an empty entry")
		}
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr %q: %w", c.Server.Addr, err)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be > 0")
	}
	if c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_burst must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	switch c.Tracing.Exporter {
	case "none", "console":
	case "otlp-http":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required for the otlp-http exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be none, console or otlp-http, got %q", c.Tracing.Exporter)
	}

	return nil
}

// EgressPolicyConfigured reports whether an egress policy was set
// explicitly in the file or environment.
func (c *Config) EgressPolicyConfigured() bool {
	return strings.TrimSpace(c.UsageScript.EgressPolicy) != ""
}

// EngineConfig converts the usage_script section into engine configuration.
func (c *Config) EngineConfig() (usagescript.Config, error) {
	policy, err := security.ParseEgressPolicy(c.UsageScript.EgressPolicy)
	if err != nil {
		return usagescript.Config{}, err
	}

	cfg := usagescript.DefaultConfig()
	cfg.EgressPolicy = policy
	cfg.AllowedHosts = append([]string(nil), c.UsageScript.AllowedHosts...)
	cfg.DNSServers = append([]string(nil), c.UsageScript.DNSServers...)
	cfg.MaxRequestBodyBytes = c.UsageScript.MaxRequestBodyBytes
	cfg.MaxHeaderCount = c.UsageScript.MaxHeaderCount
	cfg.AllowRedirects = c.UsageScript.AllowRedirects
	cfg.MaxRedirects = c.UsageScript.MaxRedirects
	cfg.MaxResponseBytes = c.UsageScript.MaxResponseBytes
	cfg.IncludeErrorBody = c.UsageScript.IncludeErrorBody
	cfg.MaxStackBytes = c.UsageScript.MaxStackBytes
	if cfg.MaxStackBytes == 0 {
		cfg.MaxStackBytes = sandbox.DefaultMaxStackBytes
	}
	cfg.MaxMemoryBytes = c.UsageScript.MaxMemoryBytes
	if cfg.MaxMemoryBytes == 0 {
		cfg.MaxMemoryBytes = sandbox.DefaultMaxMemoryBytes
	}
	if c.UsageScript.UserAgent != "" {
		cfg.UserAgent = c.UsageScript.UserAgent
	}
	return cfg, nil
}

// PublicBind reports whether addr listens beyond the loopback interface.
// Unspecified hosts (":8787", "0.0.0.0") and names other than localhost
// count as public.
func PublicBind(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return false
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return true
	}
	return !ip.Unmap().IsLoopback()
}

// truthy accepts 1, true, TRUE, yes and on.
// firstEnv returns the first non-empty variable among names. Later names
// are older spellings kept as aliases.
func firstEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

func truthy(v string) bool {
	switch strings.TrimSpace(v) {
	case "1", "true", "TRUE", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
