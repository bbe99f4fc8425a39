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
	"fmt"
	"time"

	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript/sandbox"
)

// Defaults for Config.
const (
	DefaultMaxRequestBodyBytes = 64 * 1024
	DefaultMaxHeaderCount      = 32
	DefaultMaxRedirects        = 5
	DefaultMaxResponseBytes    = 1024 * 1024
	DefaultMaxMemoryBytes      = sandbox.DefaultMaxMemoryBytes
	DefaultTimeout             = 10 * time.Second
	MinTimeout                 = sandbox.MinTimeout
	MaxTimeout                 = sandbox.MaxTimeout
	DefaultUserAgent           = "usageprobe/1.0"
)

// Config is the engine's fixed configuration. It is copied at construction
// and never changes for the life of an Engine.
type Config struct {
	// EgressPolicy selects which addresses outbound requests may reach.
	EgressPolicy security.EgressPolicy

	// AllowedHosts restricts outbound requests to these hosts when non-empty.
	AllowedHosts []string

	// DNSServers, when set, are queried directly instead of the system
	// resolver ("host" or "host:port").
	DNSServers []string

	// MaxRequestBodyBytes caps the script's request body.
	MaxRequestBodyBytes int64

	// MaxHeaderCount caps the number of request headers.
	MaxHeaderCount int

	// AllowRedirects follows redirects, re-validating each hop.
	AllowRedirects bool

	// MaxRedirects caps redirect hops when AllowRedirects is set.
	MaxRedirects int

	// MaxResponseBytes caps the decoded response body.
	MaxResponseBytes int64

	// IncludeErrorBody quotes up to 200 characters of a non-2xx body in the
	// error. Off by default; upstream bodies may echo credentials.
	IncludeErrorBody bool

	// MaxStackBytes is the interpreter stack budget, enforced as a call
	// depth.
	MaxStackBytes int

	// MaxMemoryBytes is the heap ceiling of each interpreter runtime.
	MaxMemoryBytes int64

	// UserAgent is sent unless the script sets its own.
	UserAgent string
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		EgressPolicy:        security.EgressTrusted,
		MaxRequestBodyBytes: DefaultMaxRequestBodyBytes,
		MaxHeaderCount:      DefaultMaxHeaderCount,
		MaxRedirects:        DefaultMaxRedirects,
		MaxResponseBytes:    DefaultMaxResponseBytes,
		MaxStackBytes:       sandbox.DefaultMaxStackBytes,
		MaxMemoryBytes:      DefaultMaxMemoryBytes,
		UserAgent:           DefaultUserAgent,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.EgressPolicy != security.EgressTrusted && c.EgressPolicy != security.EgressStrict {
		return fmt.Errorf("unknown egress policy %d", c.EgressPolicy)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("max_request_body_bytes must be > 0, got %d", c.MaxRequestBodyBytes)
	}
	if c.MaxHeaderCount <= 0 {
		return fmt.Errorf("max_header_count must be > 0, got %d", c.MaxHeaderCount)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0, got %d", c.MaxRedirects)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be > 0, got %d", c.MaxResponseBytes)
	}
	if c.MaxStackBytes < 0 {
		return fmt.Errorf("max_stack_bytes must be >= 0, got %d", c.MaxStackBytes)
	}
	if c.MaxMemoryBytes < 0 {
		return fmt.Errorf("max_memory_bytes must be >= 0, got %d", c.MaxMemoryBytes)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}

func (c *Config) requestLimits() RequestLimits {
	return RequestLimits{
		MaxBodyBytes:   c.MaxRequestBodyBytes,
		MaxHeaderCount: c.MaxHeaderCount,
	}
}

func (c *Config) sandboxLimits(timeout time.Duration) sandbox.Limits {
	return sandbox.Limits{
		MaxStackBytes:  c.MaxStackBytes,
		MaxMemoryBytes: c.MaxMemoryBytes,
		MaxOutputBytes: int(c.MaxResponseBytes),
		Timeout:        sandbox.ClampTimeout(timeout),
	}
}
