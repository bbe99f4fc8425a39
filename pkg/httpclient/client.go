// Package httpclient builds HTTP clients for reaching untrusted endpoints.
//
// Every client it returns:
//   - dials only addresses permitted by the egress policy, preferring the
//     addresses pinned when the URL was validated
//   - ignores proxy environment variables
//   - refuses redirects unless enabled, and re-validates each hop when they are
//   - logs requests with secrets redacted from the URL
//   - propagates the correlation ID from the request context
//
// Example usage:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Validator = security.NewURLValidator(security.EgressStrict, nil, nil)
//	client, err := httpclient.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.CloseIdleConnections()
package httpclient

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/usageprobe/pkg/security"
)

// ErrTooManyRedirects is returned when a response chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// New creates an HTTP client with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pins := cfg.Pins
	if pins == nil {
		pins = security.NewPinSet()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &security.Dialer{
		Policy:   cfg.Validator.Policy(),
		Resolver: cfg.Validator.Resolver(),
		Pins:     pins,
		Timeout:  cfg.Timeout,
	}

	baseTransport := &http.Transport{
		// Proxies would move the real connection out of the dialer's reach.
		Proxy: nil,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	transport := newLoggingTransport(baseTransport, cfg.UserAgent, logger, cfg.Secrets)
	validator := cfg.Validator.WithPins(pins)

	return &http.Client{
		Transport:     transport,
		Timeout:       cfg.Timeout,
		CheckRedirect: redirectPolicy(cfg.AllowRedirects, cfg.MaxRedirects, validator),
	}, nil
}

// redirectPolicy returns the CheckRedirect hook. With redirects disabled
// the 3xx response itself is handed back to the caller.
func redirectPolicy(allow bool, max int, validator *security.URLValidator) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !allow {
			return http.ErrUseLastResponse
		}
		if len(via) > max {
			return ErrTooManyRedirects
		}
		if _, err := validator.ValidateURL(req.Context(), req.URL); err != nil {
			return err
		}
		return nil
	}
}
