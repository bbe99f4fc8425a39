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

package usagescript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript/sandbox"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, security.EgressTrusted, cfg.EgressPolicy)
	assert.Equal(t, int64(65536), cfg.MaxRequestBodyBytes)
	assert.Equal(t, 32, cfg.MaxHeaderCount)
	assert.Equal(t, int64(1048576), cfg.MaxResponseBytes)
	assert.Equal(t, 5, cfg.MaxRedirects)
	assert.False(t, cfg.AllowRedirects)
	assert.False(t, cfg.IncludeErrorBody)
	assert.Empty(t, cfg.AllowedHosts)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"strict", func(c *Config) { c.EgressPolicy = security.EgressStrict }, false},
		{"unknown policy", func(c *Config) { c.EgressPolicy = 7 }, true},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }, true},
		{"zero header limit", func(c *Config) { c.MaxHeaderCount = 0 }, true},
		{"negative redirects", func(c *Config) { c.MaxRedirects = -1 }, true},
		{"zero redirects", func(c *Config) { c.MaxRedirects = 0 }, false},
		{"zero response limit", func(c *Config) { c.MaxResponseBytes = 0 }, true},
		{"negative stack", func(c *Config) { c.MaxStackBytes = -1 }, true},
		{"negative memory", func(c *Config) { c.MaxMemoryBytes = -1 }, true},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SandboxLimits(t *testing.T) {
	cfg := DefaultConfig()
	limits := cfg.sandboxLimits(time.Hour)
	assert.Equal(t, sandbox.MaxTimeout, limits.Timeout)
	assert.Equal(t, sandbox.DefaultMaxStackBytes, limits.MaxStackBytes)
	assert.Equal(t, int64(32<<20), limits.MaxMemoryBytes)
}

func TestEngine_ConfigIsCopied(t *testing.T) {
	hosts := []string{"api.example.com"}
	cfg := DefaultConfig()
	cfg.AllowedHosts = hosts

	engine, err := New(cfg)
	assert.NoError(t, err)

	hosts[0] = "evil.example.com"
	assert.Equal(t, []string{"api.example.com"}, engine.Config().AllowedHosts)

	got := engine.Config()
	got.AllowedHosts[0] = "other.example.com"
	assert.Equal(t, []string{"api.example.com"}, engine.Config().AllowedHosts)
}
