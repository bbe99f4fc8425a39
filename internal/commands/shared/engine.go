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
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/language"

	"github.com/tombee/usageprobe/internal/config"
	"github.com/tombee/usageprobe/internal/log"
	pkgerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

// LoadConfig loads the file named by --config, or the default config file
// when one exists. It returns the path that was read, which may be empty.
func LoadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(GetConfigPath())
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, NewInvalidInputError("failed to load configuration", err)
	}
	return cfg, path, nil
}

// NewLogger builds the command logger. --verbose and --quiet override the
// configured level.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Log.Level
	switch {
	case GetVerbose():
		level = "debug"
	case GetQuiet():
		level = "error"
	}
	return log.New(&log.Config{
		Level:     level,
		Format:    log.Format(cfg.Log.Format),
		Output:    w,
		AddSource: cfg.Log.AddSource,
	})
}

// NewEngine builds a script engine from the usage_script section.
func NewEngine(cfg *config.Config, logger *slog.Logger, opts ...usagescript.Option) (*usagescript.Engine, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, NewInvalidInputError("invalid usage_script configuration", err)
	}
	opts = append([]usagescript.Option{usagescript.WithLogger(logger)}, opts...)
	engine, err := usagescript.New(engineCfg, opts...)
	if err != nil {
		return nil, NewInvalidInputError("failed to create script engine", err)
	}
	return engine, nil
}

// ResolveLanguage picks the output language from an explicit --lang value,
// then LC_ALL, LC_MESSAGES and LANG.
func ResolveLanguage(flag string) language.Tag {
	if flag != "" {
		return pkgerrors.MatchLanguage(flag)
	}
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" && v != "C" && v != "POSIX" {
			return pkgerrors.MatchLanguage(posixLocale(v))
		}
	}
	return language.English
}

// posixLocale turns "zh_CN.UTF-8" into "zh-CN".
func posixLocale(v string) string {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	return strings.ReplaceAll(v, "_", "-")
}
