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

package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		_ = w.Stop()
		cancel()
	})
	return w
}

// awaitConfig waits for a published config satisfying match. Editors and
// os.WriteFile may produce an intermediate truncated file, so earlier
// updates are skipped.
func awaitConfig(t *testing.T, w *Watcher, match func(*Config) bool) *Config {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg, ok := <-w.Updates():
			require.True(t, ok, "updates closed")
			if match(cfg) {
				return cfg
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
			return nil
		}
	}
}

func TestWatcher_PublishesReloadedConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "usage_script:\n  egress_policy: trusted\n")
	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("usage_script:\n  egress_policy: strict\n"), 0o600))

	cfg := awaitConfig(t, w, func(c *Config) bool { return c.UsageScript.EgressPolicy == "strict" })
	assert.True(t, cfg.EgressPolicyConfigured())
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "usage_script:\n  egress_policy: trusted\n")
	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("usage_script:\n  egress_policy: bogus\n"), 0o600))

	timeout := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case cfg := <-w.Updates():
			assert.NotEqual(t, "bogus", cfg.UsageScript.EgressPolicy, "invalid config must not be published")
		case <-timeout:
			done = true
		}
	}

	require.NoError(t, os.WriteFile(path, []byte("usage_script:\n  max_header_count: 3\n"), 0o600))
	awaitConfig(t, w, func(c *Config) bool { return c.UsageScript.MaxHeaderCount == 3 })
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "{}\n")
	w := startWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1\n"), 0o600))

	select {
	case cfg := <-w.Updates():
		t.Fatalf("unexpected reload for sibling file: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopClosesUpdates(t *testing.T) {
	path := writeConfig(t, "{}\n")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.Start(context.Background())
	require.NoError(t, w.Stop())

	_, ok := <-w.Updates()
	assert.False(t, ok)
}
