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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/security"
)

var envKeys = []string{
	"USAGE_SCRIPT_EGRESS_POLICY",
	"USAGE_SCRIPT_ALLOWED_HOSTS",
	"USAGE_SCRIPT_DNS_SERVERS",
	"USAGE_SCRIPT_MAX_REQUEST_BODY_BYTES",
	"USAGE_SCRIPT_MAX_HEADER_COUNT",
	"USAGE_SCRIPT_ALLOW_REDIRECTS",
	"USAGE_SCRIPT_MAX_REDIRECTS",
	"USAGE_SCRIPT_MAX_RESPONSE_BYTES",
	"USAGE_SCRIPT_MAX_MEMORY_BYTES",
	"USAGE_SCRIPT_INCLUDE_ERROR_BODY",
	"USAGE_SCRIPT_MAX_BODY_BYTES",
	"USAGE_SCRIPT_INCLUDE_BODY",
	"USAGEPROBE_ADDR",
	"USAGEPROBE_SHUTDOWN_TIMEOUT",
	"USAGEPROBE_RATE_LIMIT",
	"USAGEPROBE_RATE_BURST",
	"USAGEPROBE_LOG_LEVEL",
	"USAGEPROBE_TRACING_EXPORTER",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LOG_SOURCE",
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("expected addr 127.0.0.1:8787, got %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.UsageScript.MaxRequestBodyBytes != 65536 {
		t.Errorf("expected max request body 65536, got %d", cfg.UsageScript.MaxRequestBodyBytes)
	}
	if cfg.UsageScript.MaxHeaderCount != 32 {
		t.Errorf("expected max header count 32, got %d", cfg.UsageScript.MaxHeaderCount)
	}
	if cfg.UsageScript.MaxResponseBytes != 1048576 {
		t.Errorf("expected max response 1048576, got %d", cfg.UsageScript.MaxResponseBytes)
	}
	if cfg.UsageScript.AllowRedirects || cfg.UsageScript.IncludeErrorBody {
		t.Errorf("expected redirects and error bodies off by default")
	}
	if cfg.EgressPolicyConfigured() {
		t.Errorf("expected egress policy unset by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
usage_script:
  egress_policy: strict
  allowed_hosts: [api.example.com, api.other.com]
  allow_redirects: true
  max_redirects: 2
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "strict", cfg.UsageScript.EgressPolicy)
	assert.True(t, cfg.EgressPolicyConfigured())
	assert.Equal(t, []string{"api.example.com", "api.other.com"}, cfg.UsageScript.AllowedHosts)
	assert.True(t, cfg.UsageScript.AllowRedirects)
	assert.Equal(t, 2, cfg.UsageScript.MaxRedirects)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults
	assert.Equal(t, int64(1048576), cfg.UsageScript.MaxResponseBytes)
	assert.Equal(t, 5.0, cfg.Server.RateLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
usage_script:
  egress_policy: strict
  max_header_count: 10
  allow_redirects: true
`)
	t.Setenv("USAGE_SCRIPT_EGRESS_POLICY", "trusted")
	t.Setenv("USAGE_SCRIPT_ALLOWED_HOSTS", " a.example.com, ,B.example.com ")
	t.Setenv("USAGE_SCRIPT_MAX_HEADER_COUNT", "12")
	t.Setenv("USAGE_SCRIPT_ALLOW_REDIRECTS", "no")
	t.Setenv("USAGE_SCRIPT_INCLUDE_ERROR_BODY", "on")
	t.Setenv("USAGE_SCRIPT_MAX_RESPONSE_BYTES", "not-a-number")
	t.Setenv("USAGE_SCRIPT_MAX_MEMORY_BYTES", "16777216")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trusted", cfg.UsageScript.EgressPolicy)
	assert.Equal(t, []string{"a.example.com", "B.example.com"}, cfg.UsageScript.AllowedHosts)
	assert.Equal(t, 12, cfg.UsageScript.MaxHeaderCount)
	assert.False(t, cfg.UsageScript.AllowRedirects)
	assert.True(t, cfg.UsageScript.IncludeErrorBody)
	assert.Equal(t, int64(1048576), cfg.UsageScript.MaxResponseBytes, "malformed numbers are ignored")
	assert.Equal(t, int64(16<<20), cfg.UsageScript.MaxMemoryBytes)
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("USAGE_SCRIPT_MAX_BODY_BYTES", "4096")
	t.Setenv("USAGE_SCRIPT_INCLUDE_BODY", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), cfg.UsageScript.MaxRequestBodyBytes)
	assert.True(t, cfg.UsageScript.IncludeErrorBody)

	t.Run("current names win", func(t *testing.T) {
		t.Setenv("USAGE_SCRIPT_MAX_REQUEST_BODY_BYTES", "8192")
		t.Setenv("USAGE_SCRIPT_INCLUDE_ERROR_BODY", "off")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, int64(8192), cfg.UsageScript.MaxRequestBodyBytes)
		assert.False(t, cfg.UsageScript.IncludeErrorBody)
	})
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		if !truthy(v) {
			t.Errorf("truthy(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"0", "false", "no", "off", "True", "y", ""} {
		if truthy(v) {
			t.Errorf("truthy(%q) = true, want false", v)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"unknown policy", "usage_script:\n  egress_policy: paranoid\n", "egress_policy"},
		{"bad yaml", "usage_script: [\n", "failed to parse YAML"},
		{"negative redirects", "usage_script:\n  max_redirects: -1\n", "max_redirects"},
		{"bad addr", "server:\n  addr: nope\n", "server.addr"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"otlp without endpoint", "tracing:\n  exporter: otlp-http\n", "tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)

			var cfgErr *probeerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)

			var msg strings.Builder
			for e := error(cfgErr); e != nil; e = unwrap(e) {
				msg.WriteString(e.Error())
			}
			assert.Contains(t, msg.String(), tt.errText)
		})
	}
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("USAGE_SCRIPT_EGRESS_POLICY", "STRICT")
	t.Setenv("USAGEPROBE_ADDR", "127.0.0.1:9999")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, security.EgressStrict, engine.EgressPolicy)
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.UsageScript.AllowedHosts = []string{"api.example.com"}
	cfg.UsageScript.IncludeErrorBody = true
	cfg.UsageScript.MaxResponseBytes = 2048

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	require.NoError(t, engine.Validate())

	assert.Equal(t, security.EgressTrusted, engine.EgressPolicy)
	assert.Equal(t, []string{"api.example.com"}, engine.AllowedHosts)
	assert.True(t, engine.IncludeErrorBody)
	assert.Equal(t, int64(2048), engine.MaxResponseBytes)
	assert.Equal(t, int64(32<<20), engine.MaxMemoryBytes)

	cfg.UsageScript.AllowedHosts[0] = "changed.example.com"
	assert.Equal(t, "api.example.com", engine.AllowedHosts[0], "engine config must not alias the source slice")
}

func TestPublicBind(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8787":  false,
		"[::1]:8787":      false,
		"localhost:8787":  false,
		"0.0.0.0:8787":    true,
		":8787":           true,
		"[::]:8787":       true,
		"192.168.1.5:80":  true,
		"myhost.lan:8787": true,
		"garbage":         true,
	}
	for addr, want := range tests {
		if got := PublicBind(addr); got != want {
			t.Errorf("PublicBind(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml"))
	assert.Equal(t, "", ResolvePath(""), "missing default file resolves to nothing")

	path := filepath.Join(dir, "usageprobe", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	assert.Equal(t, path, ResolvePath(""))
}
