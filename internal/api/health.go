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
	"net/http"
	"runtime"
	"strings"
	"time"
)

// HealthResponse is the response format for /healthz.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// VersionResponse is the response format for /version.
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// handleHealth handles GET /healthz.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	checks := map[string]string{
		"api":     "ok",
		"runtime": runtime.Version(),
	}

	status := "healthy"
	if engine := r.engines.Load(); engine != nil {
		cfg := engine.Config()
		checks["egress_policy"] = cfg.EgressPolicy.String()
		checks["allowed_hosts"] = formatAllowedHosts(cfg.AllowedHosts)
	} else {
		status = "degraded"
		checks["engine"] = "not configured"
	}

	countResponse(req, http.StatusOK)
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(r.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

// handleVersion handles GET /version.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	countResponse(req, http.StatusOK)
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:   r.version,
		GoVersion: runtime.Version(),
	})
}

func formatAllowedHosts(hosts []string) string {
	if len(hosts) == 0 {
		return "any"
	}
	return strings.Join(hosts, ",")
}
