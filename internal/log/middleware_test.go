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

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestHTTPMiddleware_LogsRequestAndResponse(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	mw := NewHTTPMiddleware(logger, func(r *http.Request) string { return r.Header.Get("X-Correlation-ID") })
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/usage/test?x=1", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", rec.Code)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d: %s", len(entries), buf.String())
	}

	first, last := entries[0], entries[1]
	if first["event"] != "http_request" || first["path"] != "/api/usage/test" {
		t.Errorf("unexpected request entry: %v", first)
	}
	if last["event"] != "http_response" {
		t.Errorf("unexpected response entry: %v", last)
	}
	if last["status"] != float64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", last["status"])
	}
	if last["bytes"] != float64(len("short and stout")) {
		t.Errorf("expected bytes %d, got %v", len("short and stout"), last["bytes"])
	}
	if last["level"] != "WARN" {
		t.Errorf("expected WARN for 4xx, got %v", last["level"])
	}
	if last[CorrelationIDKey] != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %v", last[CorrelationIDKey])
	}
}

func TestLogHTTPResponse_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

		LogHTTPResponse(logger, &HTTPRequest{Method: "GET", Path: "/"}, &HTTPResponse{Status: tt.status})

		entries := decodeLines(t, &buf)
		if len(entries) != 1 || entries[0]["level"] != tt.level {
			t.Errorf("status %d: expected level %s, got %v", tt.status, tt.level, entries)
		}
	}
}

func TestHTTPMiddleware_DefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	handler := NewHTTPMiddleware(logger, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry at info level, got %d", len(entries))
	}
	if entries[0]["status"] != float64(http.StatusOK) {
		t.Errorf("expected implicit 200, got %v", entries[0]["status"])
	}
	if _, ok := entries[0][CorrelationIDKey]; ok {
		t.Errorf("expected no correlation id without extractor")
	}
}
