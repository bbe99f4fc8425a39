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
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// forbiddenHeaders are managed by the transport and may not be set by a script.
var forbiddenHeaders = []string{
	"host",
	"content-length",
	"transfer-encoding",
	"connection",
	"proxy-authorization",
	"proxy-authenticate",
	"proxy-connection",
}

var standardMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
	http.MethodTrace,
}

// RequestConfig is the request a script asks the engine to send.
type RequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
}

// RequestLimits bounds what a RequestConfig may carry.
type RequestLimits struct {
	MaxBodyBytes   int64
	MaxHeaderCount int
}

// ParseRequestConfig decodes the JSON text produced by the first script
// phase. url and method are required; headers must map strings to strings
// and body must be a string or null. Unknown keys are ignored.
func ParseRequestConfig(text string) (*RequestConfig, error) {
	var raw struct {
		URL     *string           `json:"url"`
		Method  *string           `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    *string           `json:"body"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, validationError(CodeRequestFormatInvalid, err.Error()).WithCause(err)
	}
	if raw.URL == nil {
		return nil, validationError(CodeRequestFormatInvalid, "missing field url").WithField("url")
	}
	if raw.Method == nil {
		return nil, validationError(CodeRequestFormatInvalid, "missing field method").WithField("method")
	}
	return &RequestConfig{
		URL:     *raw.URL,
		Method:  *raw.Method,
		Headers: raw.Headers,
		Body:    raw.Body,
	}, nil
}

// Validate checks the method, body size, header count and header names and
// values. Checks run in that order and the first failure is returned.
func (r *RequestConfig) Validate(limits RequestLimits) error {
	if r.Method == "" || strings.IndexFunc(r.Method, notTokenRune) >= 0 {
		return validationError(CodeInvalidHTTPMethod, strconv.Quote(r.Method)).WithField("method")
	}

	if r.Body != nil && int64(len(*r.Body)) > limits.MaxBodyBytes {
		return validationError(CodeRequestBodyTooLarge,
			strconv.Itoa(len(*r.Body)), strconv.FormatInt(limits.MaxBodyBytes, 10)).WithField("body")
	}

	if len(r.Headers) > limits.MaxHeaderCount {
		return validationError(CodeHeaderCountExceeded,
			strconv.Itoa(len(r.Headers)), strconv.Itoa(limits.MaxHeaderCount)).WithField("headers")
	}

	for _, name := range r.headerNames() {
		if slices.Contains(forbiddenHeaders, strings.ToLower(name)) {
			return validationError(CodeForbiddenHeader, name).WithField(name)
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return validationError(CodeInvalidHeader, strconv.Quote(name)).WithField(name)
		}
		if !httpguts.ValidHeaderFieldValue(r.Headers[name]) {
			return validationError(CodeInvalidHeader, name).WithField(name)
		}
	}
	return nil
}

// canonicalMethod upper-cases standard methods and returns any other token
// unchanged.
func (r *RequestConfig) canonicalMethod() string {
	upper := strings.ToUpper(r.Method)
	if slices.Contains(standardMethods, upper) {
		return upper
	}
	return r.Method
}

// headerNames returns header names in sorted order so validation reports
// the same header for the same input.
func (r *RequestConfig) headerNames() []string {
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func notTokenRune(r rune) bool {
	return !httpguts.IsTokenRune(r)
}

func validationError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryValidation, code, args...)
}
