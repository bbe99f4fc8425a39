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
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HTTPRequest describes an inbound HTTP request for logging purposes.
type HTTPRequest struct {
	// Method is the HTTP method.
	Method string

	// Path is the request path without the query string.
	Path string

	// CorrelationID is the correlation ID for tracing the request.
	CorrelationID string

	// RemoteAddr is the remote address of the client.
	RemoteAddr string
}

// HTTPResponse describes the response written for an HTTPRequest.
type HTTPResponse struct {
	// Status is the HTTP status code written.
	Status int

	// Bytes is the number of body bytes written.
	Bytes int64

	// DurationMs is the duration of the request in milliseconds.
	DurationMs int64
}

// LogHTTPRequest logs an incoming HTTP request.
func LogHTTPRequest(logger *slog.Logger, req *HTTPRequest) {
	attrs := []any{
		EventKey, "http_request",
		"method", req.Method,
		"path", req.Path,
		"remote", req.RemoteAddr,
	}

	if req.CorrelationID != "" {
		attrs = append(attrs, CorrelationIDKey, req.CorrelationID)
	}

	logger.Debug("http request received", attrs...)
}

// LogHTTPResponse logs a completed HTTP request. Server errors log at
// error level, client errors at warn.
func LogHTTPResponse(logger *slog.Logger, req *HTTPRequest, resp *HTTPResponse) {
	attrs := []any{
		EventKey, "http_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"bytes", resp.Bytes,
		DurationKey, resp.DurationMs,
		"remote", req.RemoteAddr,
	}

	if req.CorrelationID != "" {
		attrs = append(attrs, CorrelationIDKey, req.CorrelationID)
	}

	level := slog.LevelInfo
	switch {
	case resp.Status >= 500:
		level = slog.LevelError
	case resp.Status >= 400:
		level = slog.LevelWarn
	}

	logger.Log(context.Background(), level, "http request completed", attrs...)
}

// HTTPMiddleware wraps handlers with request and response logging.
type HTTPMiddleware struct {
	logger        *slog.Logger
	correlationID func(*http.Request) string
}

// NewHTTPMiddleware creates a new HTTP logging middleware. correlationID
// extracts the ID to log for a request and may be nil.
func NewHTTPMiddleware(logger *slog.Logger, correlationID func(*http.Request) string) *HTTPMiddleware {
	return &HTTPMiddleware{
		logger:        logger,
		correlationID: correlationID,
	}
}

// Wrap returns next with logging applied.
func (m *HTTPMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		req := &HTTPRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
		}
		if m.correlationID != nil {
			req.CorrelationID = m.correlationID(r)
		}
		LogHTTPRequest(m.logger, req)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		LogHTTPResponse(m.logger, req, &HTTPResponse{
			Status:     rec.status,
			Bytes:      rec.bytes,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
