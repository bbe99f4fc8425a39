package httpclient

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveParams contains query parameter names whose values are redacted
// from logs. These are matched case-insensitively as substrings.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
	"signature",
}

// sanitizeURL renders u for logging. Sensitive query parameters are
// redacted, then any literal secret is replaced wherever it still appears
// (path segments, other parameter values). The fragment is dropped.
func sanitizeURL(u *url.URL, secrets []string) string {
	if u == nil {
		return ""
	}

	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, redacted)
		}
	}

	safe := *u
	safe.User = nil
	safe.Fragment = ""
	safe.RawFragment = ""
	if u.RawQuery != "" {
		safe.RawQuery = q.Encode()
	}
	return redact(safe.String(), secrets)
}

// redact replaces each non-trivial secret, raw and query-escaped, in s.
func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
		if escaped := url.QueryEscape(secret); escaped != secret {
			s = strings.ReplaceAll(s, escaped, redacted)
		}
	}
	return s
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
