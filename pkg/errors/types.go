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

package errors

import (
	"fmt"

	"golang.org/x/text/language"
)

// Category groups error codes by the stage that produced them.
type Category string

const (
	// CategorySetup covers interpreter and HTTP client construction failures.
	CategorySetup Category = "setup"

	// CategoryScript covers evaluation, extraction and serialization failures
	// inside the sandbox.
	CategoryScript Category = "script"

	// CategoryValidation covers malformed request configs and limit violations.
	CategoryValidation Category = "validation"

	// CategoryNetworkPolicy covers URL, allowlist and address policy rejections.
	CategoryNetworkPolicy Category = "network_policy"

	// CategoryTransport covers connection, DNS and timeout failures.
	CategoryTransport Category = "transport"

	// CategoryProtocol covers non-2xx statuses and oversized responses.
	CategoryProtocol Category = "protocol"

	// CategoryResultShape covers extractor output that fails the usage schema.
	CategoryResultShape Category = "result_shape"
)

// Error is a localized, machine-readable failure. Code selects the message
// template in the catalog; Args fill it. An *Error placed in Args is
// rendered in the same language as its parent.
type Error struct {
	// Category is the coarse classification of the failure
	Category Category

	// Code is the stable machine key, e.g. "usage_script.url_blocked"
	Code string

	// Args are substituted into the message template
	Args []any

	// Field names the offending result field or header, if any
	Field string

	// StatusCode is the upstream HTTP status for protocol errors
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// New creates an Error for the given category and code.
func New(category Category, code string, args ...any) *Error {
	return &Error{Category: category, Code: code, Args: args}
}

// WithCause attaches the underlying error and returns e.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField records the offending field name and returns e.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithStatus records the upstream status code and returns e.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// Error implements the error interface using the English message.
func (e *Error) Error() string {
	return e.Localize(language.English)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// Localize renders the message in the given language, falling back to
// English when the catalog has no translation.
func (e *Error) Localize(tag language.Tag) string {
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		if nested, ok := a.(*Error); ok {
			args[i] = nested.Localize(tag)
			continue
		}
		args[i] = a
	}
	return printer(tag).Sprintf(e.Code, args...)
}

// Messages returns the message in every supported language keyed by its
// short language code.
func (e *Error) Messages() map[string]string {
	out := make(map[string]string, len(supported))
	for _, tag := range supported {
		base, _ := tag.Base()
		out[base.String()] = e.Localize(tag)
	}
	return out
}

// IsUserVisible implements UserVisibleError.
func (e *Error) IsUserVisible() bool {
	return true
}

// UserMessage implements UserVisibleError.
func (e *Error) UserMessage() string {
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *Error) Suggestion() string {
	key := e.Code + suggestionSuffix
	if !hasKey(key) {
		return ""
	}
	return printer(language.English).Sprintf(key)
}

// ErrorType implements ErrorClassifier.
func (e *Error) ErrorType() string {
	return string(e.Category)
}

// IsRetryable implements ErrorClassifier. Only transport failures are
// worth retrying; everything else is deterministic for a given script.
func (e *Error) IsRetryable() bool {
	return e.Category == CategoryTransport
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "egress_policy")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
