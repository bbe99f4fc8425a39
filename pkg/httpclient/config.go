package httpclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/usageprobe/pkg/security"
)

// DefaultMaxRedirects caps redirect hops when redirects are enabled.
const DefaultMaxRedirects = 5

// Config configures an egress-restricted HTTP client.
type Config struct {
	// Timeout is the total request timeout, including redirects and body read.
	// Must be > 0.
	Timeout time.Duration

	// UserAgent is the User-Agent header value used when the caller sets none.
	// Required. Must be non-empty.
	UserAgent string

	// Validator checks every redirect target and supplies the egress policy
	// and resolver used at dial time. Required.
	Validator *security.URLValidator

	// Pins holds addresses validated for this client's requests. When nil a
	// fresh set is created.
	Pins *security.PinSet

	// AllowRedirects enables following redirects. When false, a 3xx response
	// is returned to the caller as is.
	AllowRedirects bool

	// MaxRedirects caps redirect hops when AllowRedirects is set.
	// Default: 5. Must be >= 0.
	MaxRedirects int

	// Secrets are literal values redacted from logged URLs wherever they appear.
	Secrets []string

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the trusted policy and the system resolver.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		UserAgent:    "usageprobe/1.0",
		Validator:    security.NewURLValidator(security.EgressTrusted, nil, nil),
		MaxRedirects: DefaultMaxRedirects,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}

	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0, got %d", c.MaxRedirects)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}

	if c.Validator == nil {
		return fmt.Errorf("validator is required")
	}

	return nil
}
