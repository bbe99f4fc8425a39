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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	internallog "github.com/tombee/usageprobe/internal/log"
	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

// UsageTestRequest is the body of POST /api/usage/test.
type UsageTestRequest struct {
	ScriptCode string `json:"scriptCode"`

	// Timeout is in seconds. Absent means 10; zero means the 2s minimum.
	Timeout *float64 `json:"timeout,omitempty"`

	APIKey      string `json:"apiKey,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// UsageTestResponse reports one script run. Script failures are reported
// here with HTTP 200.
type UsageTestResponse struct {
	Success    bool                `json:"success"`
	Data       *usagescript.Result `json:"data,omitempty"`
	Error      string              `json:"error,omitempty"`
	Code       string              `json:"code,omitempty"`
	Category   string              `json:"category,omitempty"`
	Field      string              `json:"field,omitempty"`
	Messages   map[string]string   `json:"messages,omitempty"`
	Suggestion string              `json:"suggestion,omitempty"`
}

// handleUsageTest handles POST /api/usage/test.
func (r *Router) handleUsageTest(w http.ResponseWriter, req *http.Request) {
	body := http.MaxBytesReader(w, req.Body, r.maxBody)
	dec := json.NewDecoder(body)

	var in UsageTestRequest
	if err := dec.Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, req, http.StatusRequestEntityTooLarge, errBodyTooLarge(tooLarge.Limit))
			return
		}
		writeError(w, req, http.StatusBadRequest, errInvalidRequest(err.Error()))
		return
	}

	timeout, err := in.timeout()
	if err != nil {
		writeError(w, req, http.StatusBadRequest, errInvalidRequest(err.Error()))
		return
	}
	if strings.TrimSpace(in.ScriptCode) == "" {
		writeError(w, req, http.StatusBadRequest, errInvalidRequest("scriptCode is required"))
		return
	}

	start := time.Now()
	engine := r.engines.Load()
	if engine == nil {
		writeError(w, req, http.StatusServiceUnavailable, errUnavailable())
		return
	}
	result, err := engine.Execute(req.Context(), usagescript.Input{
		Script: in.ScriptCode,
		Variables: usagescript.Variables{
			APIKey:      in.APIKey,
			BaseURL:     in.BaseURL,
			AccessToken: in.AccessToken,
			UserID:      in.UserID,
		},
		Timeout: timeout,
	})
	if err != nil {
		perr, ok := probeerrors.AsError(err)
		if !ok {
			r.logger.Error("usage test failed unexpectedly", internallog.Error(err))
			perr = errInvalidRequest(err.Error())
		}
		r.logger.Debug("usage test failed",
			slog.String(internallog.CodeKey, perr.Code),
			internallog.Duration("duration", time.Since(start).Milliseconds()))
		writeError(w, req, http.StatusOK, perr)
		return
	}

	r.logger.Debug("usage test succeeded",
		internallog.Duration("duration", time.Since(start).Milliseconds()))
	countResponse(req, http.StatusOK)
	writeJSON(w, http.StatusOK, UsageTestResponse{Success: true, Data: result})
}

// timeout converts the seconds field into a duration. An absent field
// selects the engine default; an explicit zero selects the minimum.
func (in UsageTestRequest) timeout() (time.Duration, error) {
	if in.Timeout == nil {
		return 0, nil
	}
	secs := *in.Timeout
	if secs < 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0, fmt.Errorf("timeout must be a non-negative number of seconds")
	}
	if secs == 0 {
		return usagescript.MinTimeout, nil
	}
	if secs > math.MaxInt32 {
		secs = math.MaxInt32
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// requestLanguage picks the response language from ?lang= or
// Accept-Language.
func requestLanguage(req *http.Request) language.Tag {
	if lang := req.URL.Query().Get("lang"); lang != "" {
		return probeerrors.MatchLanguage(lang)
	}
	return probeerrors.MatchLanguage(req.Header.Get("Accept-Language"))
}

func writeError(w http.ResponseWriter, req *http.Request, status int, perr *probeerrors.Error) {
	countResponse(req, status)
	writeJSON(w, status, UsageTestResponse{
		Success:    false,
		Error:      perr.Localize(requestLanguage(req)),
		Code:       perr.Code,
		Category:   string(perr.Category),
		Field:      perr.Field,
		Messages:   perr.Messages(),
		Suggestion: perr.Suggestion(),
	})
}
