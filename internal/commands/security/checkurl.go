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
	"context"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/tombee/usageprobe/internal/commands/shared"
	"github.com/tombee/usageprobe/pkg/security"
)

// dnsTimeout bounds each query to a configured upstream DNS server.
const dnsTimeout = 5 * time.Second

type checkURLOptions struct {
	policy     string
	allowHosts []string
	lang       string
}

// NewCheckURLCommand creates the check-url command.
func NewCheckURLCommand() *cobra.Command {
	var opts checkURLOptions

	cmd := &cobra.Command{
		Use:   "check-url <url>",
		Short: "Check a URL against the egress policy",
		Long: `Check-url runs the same scheme, credential, allowlist and address checks
a usage script request goes through, without sending anything. Every
address the host resolves to is listed with its range.

Exits 3 when the URL would be refused.`,
		Example: `  usageprobe check-url https://api.example.com/v1/balance
  usageprobe check-url http://169.254.169.254/ --json
  usageprobe check-url https://internal.corp/ --policy strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckURL(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.policy, "policy", "", "Override the egress policy (strict, trusted)")
	cmd.Flags().StringSliceVar(&opts.allowHosts, "allow-hosts", nil, "Restrict requests to these hosts")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "Language for error messages (en, zh)")

	return cmd
}

type addressReport struct {
	Address string                `json:"address"`
	Class   security.AddressClass `json:"class"`
	Allowed bool                  `json:"allowed"`
}

type checkURLOutput struct {
	shared.JSONResponse
	URL       string            `json:"url"`
	Host      string            `json:"host,omitempty"`
	Policy    string            `json:"policy"`
	Allowed   bool              `json:"allowed"`
	Addresses []addressReport   `json:"addresses"`
	Error     *shared.JSONError `json:"error,omitempty"`
}

func runCheckURL(cmd *cobra.Command, raw string, opts checkURLOptions) error {
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
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return shared.NewInvalidInputError("invalid usage_script configuration", err)
	}

	var resolver security.Resolver = security.SystemResolver{}
	if len(engineCfg.DNSServers) > 0 {
		resolver = security.NewUpstreamResolver(engineCfg.DNSServers, dnsTimeout)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tag := shared.ResolveLanguage(opts.lang)
	report, checkErr := checkURL(ctx, raw, engineCfg.EgressPolicy, engineCfg.AllowedHosts, resolver, tag)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if checkErr != nil {
		exitErr := shared.NewScriptError("URL refused", checkErr, tag)
		exitErr.Silent = shared.GetJSON()
		return exitErr
	}
	return nil
}

// checkURL validates raw and describes every address involved. A refused
// URL still reports the addresses its host resolves to when they can be
// found.
func checkURL(ctx context.Context, raw string, policy security.EgressPolicy, allowed []string, resolver security.Resolver, tag language.Tag) (checkURLOutput, error) {
	report := checkURLOutput{
		JSONResponse: shared.NewJSONResponse("check-url", true),
		URL:          raw,
		Policy:       policy.String(),
		Addresses:    []addressReport{},
	}

	validator := security.NewURLValidator(policy, allowed, resolver)
	validated, err := validator.Validate(ctx, raw)
	if err == nil {
		report.Allowed = true
		report.Host = validated.Host
		report.Addresses = describe(validated.Addrs, policy)
		return report, nil
	}

	jsonErr := shared.NewJSONError(err, tag)
	report.Success = false
	report.Error = &jsonErr
	if u, perr := url.Parse(strings.TrimSpace(raw)); perr == nil {
		report.Host = security.NormalizeHost(u.Hostname())
		report.Addresses = describe(lookup(ctx, report.Host, resolver), policy)
	}
	return report, err
}

func lookup(ctx context.Context, host string, resolver security.Resolver) []netip.Addr {
	if host == "" {
		return nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}
	}
	addrs, err := resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil
	}
	return addrs
}

func describe(addrs []netip.Addr, policy security.EgressPolicy) []addressReport {
	out := make([]addressReport, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, addressReport{
			Address: a.String(),
			Class:   security.Classify(a),
			Allowed: policy.Allows(a),
		})
	}
	return out
}

func printReport(w io.Writer, r checkURLOutput) {
	fmt.Fprintf(w, "URL:     %s\n", r.URL)
	if r.Host != "" {
		fmt.Fprintf(w, "Host:    %s\n", r.Host)
	}
	fmt.Fprintf(w, "Policy:  %s\n", r.Policy)
	if r.Allowed {
		fmt.Fprintln(w, "Result:  allowed")
	} else {
		fmt.Fprintf(w, "Result:  refused (%s)\n", r.Error.Code)
	}
	if len(r.Addresses) > 0 {
		fmt.Fprintln(w, "Addresses:")
		for _, a := range r.Addresses {
			verdict := "allowed"
			if !a.Allowed {
				verdict = "blocked"
			}
			fmt.Fprintf(w, "  %-40s %-12s %s\n", a.Address, a.Class, verdict)
		}
	}
}
