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
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript/sandbox"
)

const balanceScript = `({
  request: {
    url: "{{baseUrl}}/balance",
    method: "get",
    headers: { "Authorization": "Bearer {{apiKey}}" }
  },
  extractor: function (response) {
    return { isValid: true, remaining: response.balance, unit: "USD", planName: response.plan };
  }
})`

// mapResolver answers lookups from a fixed table.
type mapResolver map[string][]netip.Addr

func (m mapResolver) LookupNetIP(_ context.Context, host string) ([]netip.Addr, error) {
	if addrs, ok := m[host]; ok {
		return addrs, nil
	}
	return nil, fmt.Errorf("no such host %q", host)
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))}, opts...)
	engine, err := New(cfg, opts...)
	require.NoError(t, err)
	return engine
}

func balanceServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance": 42.5, "plan": "pro"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, engine *Engine, script, baseURL string) (*Result, error) {
	t.Helper()
	return engine.Execute(context.Background(), Input{
		Script:    script,
		Variables: Variables{APIKey: "sk-test-key", BaseURL: baseURL},
		Timeout:   5 * time.Second,
	})
}

func requireCode(t *testing.T, err error, code string) *probeerrors.Error {
	t.Helper()
	require.Error(t, err)
	perr, ok := probeerrors.AsError(err)
	require.True(t, ok, "expected *errors.Error, got %T: %v", err, err)
	require.Equal(t, code, perr.Code, "err=%v", err)
	return perr
}

func TestEngine_Execute(t *testing.T) {
	var hits atomic.Int32
	srv := balanceServer(t, &hits)
	engine := newTestEngine(t, nil)

	res, err := run(t, engine, balanceScript, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	require.Len(t, res.Items, 1)
	assert.Equal(t, 42.5, *res.Items[0].Remaining)
	assert.Equal(t, "pro", *res.Items[0].PlanName)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isValid": true, "remaining": 42.5, "unit": "USD", "planName": "pro"}`, string(out))
}

func TestEngine_ArrayResult(t *testing.T) {
	srv := balanceServer(t, nil)
	engine := newTestEngine(t, nil)

	script := strings.Replace(balanceScript,
		`return { isValid: true, remaining: response.balance, unit: "USD", planName: response.plan };`,
		`return [{ planName: "a", remaining: 1 }, { planName: "b", remaining: response.balance, custom: [1, 2] }];`, 1)

	res, err := run(t, engine, script, srv.URL)
	require.NoError(t, err)
	assert.True(t, res.Multiple)
	require.Len(t, res.Items, 2)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"planName": "a", "remaining": 1}, {"planName": "b", "remaining": 42.5, "custom": [1, 2]}]`, string(out))
}

func TestEngine_PolicyRejectsBeforeAnyRequest(t *testing.T) {
	var hits atomic.Int32
	srv := balanceServer(t, &hits)

	tests := []struct {
		name     string
		mutate   func(*Config)
		opts     []Option
		baseURL  string
		wantCode string
	}{
		{
			name:     "strict blocks loopback",
			mutate:   func(c *Config) { c.EgressPolicy = security.EgressStrict },
			baseURL:  srv.URL,
			wantCode: security.CodeURLBlocked,
		},
		{
			name:     "strict blocks names resolving to loopback",
			mutate:   func(c *Config) { c.EgressPolicy = security.EgressStrict },
			opts:     []Option{WithResolver(mapResolver{"rebind.test": {netip.MustParseAddr("127.0.0.1")}})},
			baseURL:  "http://rebind.test:" + port(t, srv),
			wantCode: security.CodeURLBlocked,
		},
		{
			name:     "metadata address blocked even when trusted",
			baseURL:  "http://169.254.169.254",
			wantCode: security.CodeURLBlocked,
		},
		{
			name:     "mapped metadata address blocked",
			baseURL:  "http://[::ffff:169.254.169.254]",
			wantCode: security.CodeURLBlocked,
		},
		{
			name:     "file scheme",
			baseURL:  "file:///etc/passwd#",
			wantCode: security.CodeURLSchemeNotAllowed,
		},
		{
			name:     "userinfo",
			baseURL:  "http://user:pass@" + strings.TrimPrefix(srv.URL, "http://"),
			wantCode: security.CodeURLUserinfoNotAllowed,
		},
		{
			name:     "host outside allowlist",
			mutate:   func(c *Config) { c.AllowedHosts = []string{"api.example.com"} },
			baseURL:  srv.URL,
			wantCode: security.CodeURLHostNotAllowed,
		},
		{
			name:     "dns failure",
			opts:     []Option{WithResolver(mapResolver{})},
			baseURL:  "http://missing.test",
			wantCode: security.CodeDNSLookupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, tt.mutate, tt.opts...)
			_, err := run(t, engine, balanceScript, tt.baseURL)
			requireCode(t, err, tt.wantCode)
		})
	}
	assert.Zero(t, hits.Load(), "no rejected invocation may reach the server")
}

func TestEngine_AllowlistMatchesNormalizedHost(t *testing.T) {
	srv := balanceServer(t, nil)
	engine := newTestEngine(t, func(c *Config) { c.AllowedHosts = []string{"Probe.Test."} },
		WithResolver(mapResolver{"probe.test": {netip.MustParseAddr("127.0.0.1")}}))

	_, err := run(t, engine, balanceScript, "http://PROBE.test:"+port(t, srv))
	require.NoError(t, err)
}

func TestEngine_RequestValidation(t *testing.T) {
	var hits atomic.Int32
	srv := balanceServer(t, &hits)
	engine := newTestEngine(t, nil)

	tests := []struct {
		name     string
		request  string
		wantCode string
	}{
		{"forbidden header", `{ url: "{{baseUrl}}", method: "GET", headers: { "Host": "internal" } }`, CodeForbiddenHeader},
		{"bad method", `{ url: "{{baseUrl}}", method: "GET /admin" }`, CodeInvalidHTTPMethod},
		{"missing method", `{ url: "{{baseUrl}}" }`, CodeRequestFormatInvalid},
		{"oversized body", `{ url: "{{baseUrl}}", method: "POST", body: new Array(70000).join("a") }`, CodeRequestBodyTooLarge},
		{"header value injection", `{ url: "{{baseUrl}}", method: "GET", headers: { "X-A": "1\r\nX-B: 2" } }`, CodeInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := fmt.Sprintf(`({ request: %s, extractor: function (r) { return {}; } })`, tt.request)
			_, err := run(t, engine, script, srv.URL)
			requireCode(t, err, tt.wantCode)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestEngine_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 300)))
	}))
	t.Cleanup(srv.Close)

	t.Run("body omitted by default", func(t *testing.T) {
		_, err := run(t, newTestEngine(t, nil), balanceScript, srv.URL)
		perr := requireCode(t, err, CodeHTTPError)
		assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
		assert.Equal(t, "HTTP error 500 Internal Server Error: <response body omitted>", perr.Error())
	})

	t.Run("body preview truncated", func(t *testing.T) {
		engine := newTestEngine(t, func(c *Config) { c.IncludeErrorBody = true })
		_, err := run(t, engine, balanceScript, srv.URL)
		perr := requireCode(t, err, CodeHTTPError)
		assert.Equal(t, "HTTP error 500 Internal Server Error: "+strings.Repeat("x", 200)+"...", perr.Error())
	})
}

func TestEngine_ResponseTooLarge(t *testing.T) {
	var written atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := bytes.Repeat([]byte("a"), 1024)
		_, _ = w.Write([]byte(`{"data":"`))
		for range 4096 {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		_, _ = w.Write([]byte(`"}`))
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, func(c *Config) { c.MaxResponseBytes = 8 * 1024 })
	_, err := run(t, engine, balanceScript, srv.URL)
	perr := requireCode(t, err, CodeResponseTooLarge)
	assert.Equal(t, probeerrors.CategoryProtocol, perr.Category)
	assert.Equal(t, "Response too large (max 8192 bytes)", perr.Error())
}

func TestEngine_DecodesCompressedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(`{"balance": 7, "plan": "gz"}`))
		_ = zw.Close()
	}))
	t.Cleanup(srv.Close)

	script := `({
  request: { url: "{{baseUrl}}", method: "GET", headers: { "Accept-Encoding": "gzip" } },
  extractor: function (r) { return { remaining: r.balance, planName: r.plan }; }
})`
	res, err := run(t, newTestEngine(t, nil), script, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "gz", *res.Items[0].PlanName)
}

func TestEngine_Redirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/balance", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balance": 1, "plan": "redirected"}`))
	})
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Run("disabled returns the 3xx", func(t *testing.T) {
		_, err := run(t, newTestEngine(t, nil), balanceScript, srv.URL)
		perr := requireCode(t, err, CodeHTTPError)
		assert.Equal(t, http.StatusFound, perr.StatusCode)
	})

	t.Run("enabled follows", func(t *testing.T) {
		engine := newTestEngine(t, func(c *Config) { c.AllowRedirects = true })
		res, err := run(t, engine, balanceScript, srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "redirected", *res.Items[0].PlanName)
	})

	t.Run("every hop is validated", func(t *testing.T) {
		engine := newTestEngine(t, func(c *Config) { c.AllowRedirects = true })
		script := strings.Replace(balanceScript, "/balance", "/metadata", 1)
		_, err := run(t, engine, script, srv.URL)
		requireCode(t, err, security.CodeURLBlocked)
	})
}

func TestEngine_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	engine := newTestEngine(t, func(c *Config) { c.AllowRedirects = true })
	_, err := run(t, engine, balanceScript, srv.URL)
	requireCode(t, err, CodeTooManyRedirects)
}

func TestEngine_TransportErrors(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		_, err = run(t, newTestEngine(t, nil), balanceScript, "http://"+addr)
		perr := requireCode(t, err, CodeRequestRefused)
		assert.Equal(t, probeerrors.CategoryTransport, perr.Category)
		assert.True(t, perr.IsRetryable())
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		start := time.Now()
		_, err := newTestEngine(t, nil).Execute(context.Background(), Input{
			Script:    balanceScript,
			Variables: Variables{APIKey: "sk-test-key", BaseURL: srv.URL},
			Timeout:   time.Millisecond,
		})
		requireCode(t, err, CodeRequestTimeout)
		assert.Less(t, time.Since(start), sandbox.MinTimeout+2*time.Second)
	})
}

func TestEngine_ScriptFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"balance": 1}`))
	}))
	t.Cleanup(srv.Close)
	engine := newTestEngine(t, nil)

	tests := []struct {
		name     string
		script   string
		wantCode string
		wantHits int32
	}{
		{"syntax error", `({`, sandbox.CodeConfigParseFailed, 0},
		{"no request", `({ extractor: function () { return {}; } })`, sandbox.CodeRequestMissing, 0},
		{"memory exhausted before request", `var a = []; for (;;) { a.push(new Array(1 << 16).fill(0)); }`, sandbox.CodeScriptMemoryExceeded, 0},
		{"no extractor", `({ request: { url: "{{baseUrl}}", method: "GET" } })`, sandbox.CodeExtractorMissing, 1},
		{"extractor throws", `({ request: { url: "{{baseUrl}}", method: "GET" }, extractor: function () { throw new Error("x"); } })`, sandbox.CodeExtractorExecFailed, 1},
		{"bad shape", `({ request: { url: "{{baseUrl}}", method: "GET" }, extractor: function () { return { remaining: "lots" }; } })`, CodeFieldTypeError, 1},
		{"empty array", `({ request: { url: "{{baseUrl}}", method: "GET" }, extractor: function () { return []; } })`, CodeEmptyArray, 1},
		{"primitive", `({ request: { url: "{{baseUrl}}", method: "GET" }, extractor: function () { return 5; } })`, CodeMustReturnObject, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			_, err := run(t, engine, tt.script, srv.URL)
			requireCode(t, err, tt.wantCode)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestEngine_RunawayScriptTimesOut(t *testing.T) {
	engine := newTestEngine(t, nil)

	start := time.Now()
	_, err := engine.Execute(context.Background(), Input{Script: `for (;;) {}`, Timeout: time.Millisecond})
	requireCode(t, err, sandbox.CodeScriptTimeout)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, sandbox.MinTimeout)
	assert.Less(t, elapsed, sandbox.MinTimeout+3*time.Second)
}

func TestEngine_ConcurrentInvocationsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"who": r.Header.Get("X-Key")})
	}))
	t.Cleanup(srv.Close)
	engine := newTestEngine(t, nil)

	script := `var calls = (typeof calls === "undefined") ? 1 : calls + 1;
({
  request: { url: "{{baseUrl}}", method: "GET", headers: { "X-Key": "{{apiKey}}" } },
  extractor: function (r) { return { planName: r.who, extra: String(calls) }; }
})`

	const n = 16
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	var hogErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, hogErr = engine.Execute(context.Background(), Input{
			Script:    `var hog = []; for (;;) { hog.push(new Array(1 << 16).fill(hog.length)); }`,
			Variables: Variables{BaseURL: srv.URL},
		})
	}()
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Execute(context.Background(), Input{
				Script:    script,
				Variables: Variables{APIKey: fmt.Sprintf("key-%02d", i), BaseURL: srv.URL},
			})
		}(i)
	}
	wg.Wait()

	requireCode(t, hogErr, sandbox.CodeScriptMemoryExceeded)
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("key-%02d", i), *results[i].Items[0].PlanName)
		assert.Equal(t, "1", *results[i].Items[0].Extra, "runtime state must not leak between phases or calls")
	}
}

func TestEngine_SpansPerPhase(t *testing.T) {
	srv := balanceServer(t, nil)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine := newTestEngine(t, nil, WithTracerProvider(tp))
	_, err := run(t, engine, balanceScript, srv.URL)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"usagescript.extract_request",
		"usagescript.validate_request",
		"usagescript.validate_url",
		"usagescript.send_request",
		"usagescript.extract_result",
		"usagescript.validate_result",
		"usagescript.Execute",
	}, names)
}

func TestEngine_LogsNeverContainSecrets(t *testing.T) {
	srv := balanceServer(t, nil)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := newTestEngine(t, nil, WithLogger(logger))

	script := `({
  request: { url: "{{baseUrl}}/balance?api_key={{apiKey}}&t={{accessToken}}", method: "GET",
             headers: { "Authorization": "Bearer {{apiKey}}" } },
  extractor: function (r) { return { remaining: r.balance }; }
})`
	_, err := engine.Execute(context.Background(), Input{
		Script:    script,
		Variables: Variables{APIKey: "sk-test-key", BaseURL: srv.URL, AccessToken: "tok-secret"},
	})
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), Input{
		Script:    `({ request: { url: "ftp://{{apiKey}}.example", method: "GET" } })`,
		Variables: Variables{APIKey: "sk-test-key"},
	})
	require.Error(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "outbound request")
	assert.Contains(t, logs, "usage script failed")
	assert.Contains(t, logs, `"phase":"extract_result"`)
	assert.Contains(t, logs, `"code":"`)
	assert.Contains(t, logs, `"duration_ms":`)
	assert.NotContains(t, logs, "sk-test-key")
	assert.NotContains(t, logs, "tok-secret")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHeaderCount = 0
	_, err := New(cfg)
	requireCode(t, err, CodeEngineConfigInvalid)
}

func port(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	return p
}
