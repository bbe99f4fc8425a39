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

// globals holds the persistent flags every usageprobe command accepts. The
// root command binds them once; commands read them through the getters.
var globals struct {
	// verbose lowers the log level to debug for run and serve
	verbose bool
	// quiet raises the log level to error
	quiet bool
	// json switches command output to the versioned JSON envelope
	json bool
	// config is an explicit config file; empty means the XDG default
	config string
}

// Stamped by the linker in release builds.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns the verbose, quiet, json and config
// destinations for the root command's persistent flags.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &globals.verbose, &globals.quiet, &globals.json, &globals.config
}

// SetVersion records build information for the version command and the
// API's /version endpoint.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVerbose reports whether --verbose was given.
func GetVerbose() bool { return globals.verbose }

// GetQuiet reports whether --quiet was given. NewLogger lets --verbose win
// when both are set.
func GetQuiet() bool { return globals.quiet }

// GetJSON reports whether results and errors should be printed as JSON.
func GetJSON() bool { return globals.json }

// GetConfigPath returns the --config value, which LoadConfig resolves
// against the XDG config directory when empty.
func GetConfigPath() string { return globals.config }

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetJSONForTest toggles JSON output without parsing flags.
func SetJSONForTest(v bool) { globals.json = v }

// SetConfigPathForTest points LoadConfig at path without parsing flags.
func SetConfigPathForTest(path string) { globals.config = path }
