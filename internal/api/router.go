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


package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tombee/usageprobe/internal/config"
	internallog "github.com/tombee/usageprobe/internal/log"
	"github.com/tombee/usageprobe/internal/tracing"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

var apiResponses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "usageprobe_api_responses_total",
		Help: "HTTP responses written by the API, by route and status code",
	},
	[]string{"route", "status"},
)

// EngineHolder publishes the engine used for new requests. Requests in
// flight keep the engine they started with.
type EngineHolder struct {
	p atomic.Pointer[usagescript.Engine]
}

// NewEngineHolder returns a holder publishing e.
func NewEngineHolder(e *usagescript.Engine) *EngineHolder {
	h := &EngineHolder{}
	h.p.Store(e)
	return h
}

// Load returns the current engine.
func (h *EngineHolder) Load() *usagescript.Engine {
	return h.p.Load()
}

// Swap publishes e and returns the engine it replaced.
func (h *EngineHolder) Swap(e *usagescript.Engine) *usagescript.Engine {
	return h.p.Swap(e)
}

// Router routes API requests.
type Router struct {
	mux       *http.ServeMux
	engines   *EngineHolder
	limiter   *rate.Limiter
	maxBody   int64
	logger    *slog.Logger
	version   string
	startTime time.Time
}

// NewRouter creates the API router. The usage test endpoint shares one
// token bucket of cfg.RateLimit requests per second.
func NewRouter(cfg config.ServerConfig, engines *EngineHolder, version string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = internallog.WithComponent(internallog.New(internallog.FromEnv()), "api")
	}

	r := &Router{
		mux:       http.NewServeMux(),
		engines:   engines,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		maxBody:   cfg.MaxBodyBytes,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}

	r.mux.Handle("POST /api/usage/test", r.rateLimited(http.HandlerFunc(r.handleUsageTest)))
	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.HandleFunc("GET /version", r.handleVersion)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	return r
}

// Handler returns the router wrapped in correlation and access-log
// middleware.
func (r *Router) Handler() http.Handler {
	logged := internallog.NewHTTPMiddleware(r.logger, func(req *http.Request) string {
		return tracing.FromContextOrEmpty(req.Context()).String()
	})
	return tracing.CorrelationMiddleware(logged.Wrap(r.mux))
}

// ServeHTTP implements http.Handler without the middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, req, http.StatusTooManyRequests, errRateLimited())
			return
		}
		next.ServeHTTP(w, req)
	})
}

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// route labels a response for metrics by its matched pattern.
func route(req *http.Request) string {
	if req.Pattern != "" {
		return req.Pattern
	}
	return "unmatched"
}

func countResponse(req *http.Request, status int) {
	apiResponses.WithLabelValues(route(req), strconv.Itoa(status)).Inc()
}
