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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/tombee/usageprobe/internal/config"
	"github.com/tombee/usageprobe/pkg/security"
)

func TestResolveLanguage(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  map[string]string
		want language.Tag
	}{
		{"flag wins", "zh", map[string]string{"LANG": "en_US.UTF-8"}, language.SimplifiedChinese},
		{"posix locale", "", map[string]string{"LANG": "zh_CN.UTF-8"}, language.SimplifiedChinese},
		{"lc_all before lang", "", map[string]string{"LC_ALL": "en_GB", "LANG": "zh_CN"}, language.English},
		{"c locale", "", map[string]string{"LANG": "C"}, language.English},
		{"nothing set", "", nil, language.English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
				t.Setenv(key, tt.env[key])
			}
			assert.Equal(t, tt.want, ResolveLanguage(tt.flag))
		})
	}
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default()
	cfg.UsageScript.EgressPolicy = "strict"
	cfg.UsageScript.AllowedHosts = []string{"API.Example.com."}

	engine, err := NewEngine(cfg, NewLogger(cfg, io.Discard))
	require.NoError(t, err)

	got := engine.Config()
	assert.Equal(t, security.EgressStrict, got.EgressPolicy)
	assert.Equal(t, []string{"API.Example.com."}, got.AllowedHosts)
}

func TestNewEngine_InvalidPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.UsageScript.EgressPolicy = "open"

	_, err := NewEngine(cfg, NewLogger(cfg, io.Discard))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitInvalidInput, exitErr.Code)
}
