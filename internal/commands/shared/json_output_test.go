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
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	pkgerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

func TestEmitJSONError(t *testing.T) {
	perr := pkgerrors.New(pkgerrors.CategoryResultShape, usagescript.CodeFieldTypeError, "remaining", "number").WithField("remaining")

	var buf bytes.Buffer
	require.NoError(t, EmitJSONError(&buf, "run", NewJSONError(perr, language.SimplifiedChinese)))

	var got struct {
		Version string      `json:"@version"`
		Command string      `json:"command"`
		Success bool        `json:"success"`
		Errors  []JSONError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "run", got.Command)
	assert.False(t, got.Success)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, usagescript.CodeFieldTypeError, got.Errors[0].Code)
	assert.Equal(t, "remaining", got.Errors[0].Field)
	assert.Equal(t, got.Errors[0].Messages["zh"], got.Errors[0].Message)
	assert.Contains(t, got.Errors[0].Messages["en"], "remaining must be number or null")
}

func TestNewJSONError_Uncataloged(t *testing.T) {
	got := NewJSONError(errors.New("disk full"), language.English)
	assert.Equal(t, "internal", got.Code)
	assert.Equal(t, "disk full", got.Message)
}
