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


package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/language"

	pkgerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Exit codes for usageprobe commands
const (
	ExitSuccess        = 0
	ExitScriptFailed   = 1
	ExitInvalidInput   = 2
	ExitPolicyRejected = 3
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error

	// Silent suppresses the stderr report; the command already wrote its
	// own output (e.g. a JSON envelope).
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidInputError creates an error for unreadable scripts, bad flags
// and invalid configuration
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewScriptError wraps an engine failure rendered in tag. Network policy
// rejections get their own exit code.
func NewScriptError(msg string, err error, tag language.Tag) *ExitError {
	code := ExitScriptFailed
	if perr, ok := pkgerrors.AsError(err); ok {
		if perr.Category == pkgerrors.CategoryNetworkPolicy {
			code = ExitPolicyRejected
		}
		err = &localized{err: perr, tag: tag}
	}
	return &ExitError{
		Code:    code,
		Message: msg,
		Cause:   err,
	}
}

// localized renders a catalog error in a fixed language.
type localized struct {
	err *pkgerrors.Error
	tag language.Tag
}

func (l *localized) Error() string { return l.err.Localize(l.tag) }
func (l *localized) Unwrap() error { return l.err }

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(PrintExitError(os.Stderr, err))
}

// PrintExitError reports err to w and returns the exit code it maps to.
func PrintExitError(w io.Writer, err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Silent {
			return exitErr.Code
		}
		if msg := exitErr.Error(); len(msg) > 0 {
			fmt.Fprintln(w, "Error:", msg)
		}
		printUserVisibleSuggestion(w, err)
		return exitErr.Code
	}

	// Default to script failure
	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)
	return ExitScriptFailed
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if suggestion := userErr.Suggestion(); suggestion != "" {
					fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
