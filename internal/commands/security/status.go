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


package security

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/usageprobe/internal/commands/shared"
	"github.com/tombee/usageprobe/internal/config"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective egress policy and limits",
		Long: `Display the usage_script settings after the config file and environment
are applied.

Example:
  usageprobe security status
  usageprobe security status --json`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

type statusOutput struct {
	EgressPolicy     string   `json:"egress_policy"`
	PolicySource     string   `json:"policy_source"`
	AllowedHosts     []string `json:"allowed_hosts"`
	DNSServers       []string `json:"dns_servers"`
	AllowRedirects   bool     `json:"allow_redirects"`
	MaxRedirects     int      `json:"max_redirects"`
	MaxRequestBytes  int64    `json:"max_request_body_bytes"`
	MaxResponseBytes int64    `json:"max_response_bytes"`
	MaxHeaderCount   int      `json:"max_header_count"`
	IncludeErrorBody bool     `json:"include_error_body"`
	ConfigFile       string   `json:"config_file,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, path, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return shared.NewInvalidInputError("invalid usage_script configuration", err)
	}

	status := statusOutput{
		EgressPolicy:     engineCfg.EgressPolicy.String(),
		PolicySource:     policySource(cfg),
		AllowedHosts:     nonNil(engineCfg.AllowedHosts),
		DNSServers:       nonNil(engineCfg.DNSServers),
		AllowRedirects:   engineCfg.AllowRedirects,
		MaxRedirects:     engineCfg.MaxRedirects,
		MaxRequestBytes:  engineCfg.MaxRequestBodyBytes,
		MaxResponseBytes: engineCfg.MaxResponseBytes,
		MaxHeaderCount:   engineCfg.MaxHeaderCount,
		IncludeErrorBody: engineCfg.IncludeErrorBody,
		ConfigFile:       path,
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), status)
	}
	printStatus(cmd.OutOrStdout(), status)
	return nil
}

func policySource(cfg *config.Config) string {
	if cfg.EgressPolicyConfigured() {
		return "configured"
	}
	return "default"
}

func printStatus(w io.Writer, s statusOutput) {
	fmt.Fprintf(w, "Egress policy:    %s (%s)\n", s.EgressPolicy, s.PolicySource)
	fmt.Fprintf(w, "Allowed hosts:    %s\n", listOrNone(s.AllowedHosts, "any"))
	fmt.Fprintf(w, "DNS servers:      %s\n", listOrNone(s.DNSServers, "system"))
	if s.AllowRedirects {
		fmt.Fprintf(w, "Redirects:        up to %d, each re-validated\n", s.MaxRedirects)
	} else {
		fmt.Fprintln(w, "Redirects:        not followed")
	}
	fmt.Fprintf(w, "Request body:     %d bytes max\n", s.MaxRequestBytes)
	fmt.Fprintf(w, "Response body:    %d bytes max\n", s.MaxResponseBytes)
	fmt.Fprintf(w, "Headers:          %d max\n", s.MaxHeaderCount)
	fmt.Fprintf(w, "Error bodies:     %s\n", map[bool]string{true: "quoted", false: "omitted"}[s.IncludeErrorBody])
	if s.ConfigFile != "" {
		fmt.Fprintf(w, "Config file:      %s\n", s.ConfigFile)
	}
}

func listOrNone(items []string, none string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, ", ")
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
