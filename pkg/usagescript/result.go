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
	"encoding/json"
	"strconv"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Usage is the typed view of one usage object. Every field is optional;
// nil means absent or null.
type Usage struct {
	IsValid        *bool    `json:"isValid,omitempty"`
	InvalidMessage *string  `json:"invalidMessage,omitempty"`
	Remaining      *float64 `json:"remaining,omitempty"`
	Unit           *string  `json:"unit,omitempty"`
	Total          *float64 `json:"total,omitempty"`
	Used           *float64 `json:"used,omitempty"`
	PlanName       *string  `json:"planName,omitempty"`
	Extra          *string  `json:"extra,omitempty"`
}

// Result is a validated extractor return value.
type Result struct {
	// Value is the decoded return value exactly as the extractor produced
	// it, unknown keys included. Numbers are json.Number.
	Value any

	// Items are the typed usage objects, one per array element or a single
	// entry for an object result.
	Items []Usage

	// Multiple reports whether the extractor returned an array.
	Multiple bool
}

// MarshalJSON renders the original value.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

type fieldKind string

const (
	kindBool   fieldKind = "boolean"
	kindString fieldKind = "string"
	kindNumber fieldKind = "number"
)

var usageFields = []struct {
	name string
	kind fieldKind
}{
	{"isValid", kindBool},
	{"invalidMessage", kindString},
	{"remaining", kindNumber},
	{"unit", kindString},
	{"total", kindNumber},
	{"used", kindNumber},
	{"planName", kindString},
	{"extra", kindString},
}

// ValidateResult decodes the extractor's JSON output and checks it against
// the usage schema. An array must be non-empty and every element is
// checked with its index attached to the error.
func ValidateResult(text string) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, probeerrors.New(probeerrors.CategoryScript, CodeResultParseFailed, err.Error()).WithCause(err)
	}

	if arr, ok := value.([]any); ok {
		if len(arr) == 0 {
			return nil, shapeError(CodeEmptyArray)
		}
		items := make([]Usage, 0, len(arr))
		for i, el := range arr {
			u, err := validateUsage(el)
			if err != nil {
				return nil, shapeError(CodeArrayValidationFailed, strconv.Itoa(i), err).WithField(err.Field).WithCause(err)
			}
			items = append(items, u)
		}
		return &Result{Value: value, Items: items, Multiple: true}, nil
	}

	u, err := validateUsage(value)
	if err != nil {
		return nil, err
	}
	return &Result{Value: value, Items: []Usage{u}}, nil
}

func validateUsage(v any) (Usage, *probeerrors.Error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Usage{}, shapeError(CodeMustReturnObject)
	}

	for _, f := range usageFields {
		raw, present := obj[f.name]
		if !present || raw == nil {
			continue
		}
		if !matchesKind(raw, f.kind) {
			return Usage{}, shapeError(CodeFieldTypeError, f.name, string(f.kind)).WithField(f.name)
		}
	}

	return Usage{
		IsValid:        boolField(obj, "isValid"),
		InvalidMessage: stringField(obj, "invalidMessage"),
		Remaining:      numberField(obj, "remaining"),
		Unit:           stringField(obj, "unit"),
		Total:          numberField(obj, "total"),
		Used:           numberField(obj, "used"),
		PlanName:       stringField(obj, "planName"),
		Extra:          stringField(obj, "extra"),
	}, nil
}

func matchesKind(v any, kind fieldKind) bool {
	switch kind {
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		_, ok := v.(json.Number)
		return ok
	}
	return false
}

func boolField(obj map[string]any, name string) *bool {
	if b, ok := obj[name].(bool); ok {
		return &b
	}
	return nil
}

func stringField(obj map[string]any, name string) *string {
	if s, ok := obj[name].(string); ok {
		return &s
	}
	return nil
}

func numberField(obj map[string]any, name string) *float64 {
	n, ok := obj[name].(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func shapeError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryResultShape, code, args...)
}
