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
	"encoding/json"
	"io"

	"golang.org/x/text/language"

	pkgerrors "github.com/tombee/usageprobe/pkg/errors"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured, localized error
type JSONError struct {
	Code       string            `json:"code"`
	Category   string            `json:"category,omitempty"`
	Message    string            `json:"message"`
	Field      string            `json:"field,omitempty"`
	Messages   map[string]string `json:"messages,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// NewJSONResponse returns an envelope for command.
func NewJSONResponse(command string, success bool) JSONResponse {
	return JSONResponse{Version: "1.0", Command: command, Success: success}
}

// NewJSONError renders err in tag. Errors outside the catalog get the
// code "internal".
func NewJSONError(err error, tag language.Tag) JSONError {
	perr, ok := pkgerrors.AsError(err)
	if !ok {
		return JSONError{Code: "internal", Message: err.Error()}
	}
	return JSONError{
		Code:       perr.Code,
		Category:   string(perr.Category),
		Message:    perr.Localize(tag),
		Field:      perr.Field,
		Messages:   perr.Messages(),
		Suggestion: perr.Suggestion(),
	}
}

// EmitJSON writes response to w as indented JSON.
func EmitJSON(w io.Writer, response any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSONError writes a failed envelope carrying errs.
func EmitJSONError(w io.Writer, command string, errs ...JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return EmitJSON(w, errorResponse{
		JSONResponse: NewJSONResponse(command, false),
		Errors:       errs,
	})
}
