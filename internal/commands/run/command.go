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


package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/usageprobe/internal/commands/shared"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

// Environment fallbacks for secrets, so they stay out of shell history.
const (
	envAPIKey      = "USAGEPROBE_API_KEY"
	envAccessToken = "USAGEPROBE_ACCESS_TOKEN"
)

type options struct {
	apiKey      string
	baseURL     string
	accessToken string
	userID      string
	timeout     time.Duration
	lang        string
	policy      string
	allowHosts  []string
}

// successResponse is the --json envelope for a successful run.
type successResponse struct {
	shared.JSONResponse
	Data *usagescript.Result `json:"data"`
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run [script-file]",
		Short: "Execute a usage script once",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run executes a usage script and prints the extracted usage as JSON.

The script is read from the named file, or from stdin when the argument is
omitted or is "-". Placeholders {{apiKey}}, {{baseUrl}}, {{accessToken}}
and {{userId}} are substituted before evaluation.

Secrets may be passed through the environment instead of flags:
  USAGEPROBE_API_KEY       value for {{apiKey}}
  USAGEPROBE_ACCESS_TOKEN  value for {{accessToken}}

Errors are printed in the language chosen by --lang, or the locale
environment (LC_ALL, LC_MESSAGES, LANG).

Exit codes:
  0  success
  1  the script, request or result failed
  2  the script or configuration could not be read
  3  the request was refused by the egress policy`,
		Example: `  # Query a balance endpoint
  usageprobe run balance.js --base-url https://api.example.com

  # Read the script from stdin, report errors in Chinese
  cat balance.js | usageprobe run --lang zh`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runScript(cmd, path, opts)
		},
	}

	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Value for {{apiKey}} (env: "+envAPIKey+")")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Value for {{baseUrl}}")
	cmd.Flags().StringVar(&opts.accessToken, "access-token", "", "Value for {{accessToken}} (env: "+envAccessToken+")")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "Value for {{userId}}")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Per-phase timeout, clamped to 2s-30s (default 10s)")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "Language for error messages (en, zh)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Override the egress policy (strict, trusted)")
	cmd.Flags().StringSliceVar(&opts.allowHosts, "allow-hosts", nil, "Restrict requests to these hosts")

	return cmd
}

func runScript(cmd *cobra.Command, path string, opts options) error {
	script, err := readScript(cmd.InOrStdin(), path)
	if err != nil {
		return shared.NewInvalidInputError("failed to read script", err)
	}

	cfg, _, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if opts.policy != "" {
		cfg.UsageScript.EgressPolicy = opts.policy
	}
	if len(opts.allowHosts) > 0 {
		cfg.UsageScript.AllowedHosts = append(cfg.UsageScript.AllowedHosts, opts.allowHosts...)
	}

	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	engine, err := shared.NewEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	timeout := opts.timeout
	if cmd.Flags().Changed("timeout") && timeout <= 0 {
		timeout = usagescript.MinTimeout
	}

	result, err := engine.Execute(ctx, usagescript.Input{
		Script:    script,
		Variables: opts.variables(),
		Timeout:   timeout,
	})

	tag := shared.ResolveLanguage(opts.lang)
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		if err != nil {
			if emitErr := shared.EmitJSONError(out, "run", shared.NewJSONError(err, tag)); emitErr != nil {
				return emitErr
			}
			exitErr := shared.NewScriptError("usage script failed", err, tag)
			exitErr.Silent = true
			return exitErr
		}
		return shared.EmitJSON(out, successResponse{
			JSONResponse: shared.NewJSONResponse("run", true),
			Data:         result,
		})
	}

	if err != nil {
		return shared.NewScriptError("usage script failed", err, tag)
	}
	return shared.EmitJSON(out, result)
}

func (o options) variables() usagescript.Variables {
	v := usagescript.Variables{
		APIKey:      o.apiKey,
		BaseURL:     o.baseURL,
		AccessToken: o.accessToken,
		UserID:      o.userID,
	}
	if v.APIKey == "" {
		v.APIKey = os.Getenv(envAPIKey)
	}
	if v.AccessToken == "" {
		v.AccessToken = os.Getenv(envAccessToken)
	}
	return v
}

func readScript(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("script %s is empty", displayName(path))
	}
	return string(data), nil
}

func displayName(path string) string {
	if path == "-" {
		return "from stdin"
	}
	return path
}
