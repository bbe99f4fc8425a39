package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	internallog "github.com/tombee/usageprobe/internal/log"
	"github.com/tombee/usageprobe/internal/tracing"
)

// loggingTransport wraps an http.RoundTripper to add:
// - Request logging with sanitized URLs
// - User-Agent header injection
// - Correlation ID propagation
// - Duration tracking
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
	secrets   []string
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger, secrets []string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    logger,
		secrets:   secrets,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	if corrID := tracing.FromContextOrEmpty(req.Context()); corrID.IsValid() {
		req.Header.Set(tracing.HeaderCorrelationID, corrID.String())
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL, t.secrets)

	if err != nil {
		t.logger.WarnContext(req.Context(), "outbound request failed",
			"method", req.Method,
			"url", logURL,
			internallog.DurationKey, duration,
			"error", redact(err.Error(), t.secrets),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "outbound request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		internallog.DurationKey, duration,
	)

	return resp, nil
}
