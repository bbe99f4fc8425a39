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
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// ValidatedURL is a URL that passed every egress check.
type ValidatedURL struct {
	// URL is the parsed target
	URL *url.URL

	// Host is the normalized host (lowercase, no trailing dot)
	Host string

	// Addrs are the addresses the host resolved to, all permitted by policy
	Addrs []netip.Addr
}

// URLValidator checks outbound targets against the scheme, credential,
// allowlist and address policy rules.
type URLValidator struct {
	policy       EgressPolicy
	allowedHosts []string
	resolver     Resolver
	pins         *PinSet
}

// NewURLValidator creates a validator. A nil resolver uses SystemResolver.
// An empty allowlist permits any host that passes the address policy.
func NewURLValidator(policy EgressPolicy, allowedHosts []string, resolver Resolver) *URLValidator {
	if resolver == nil {
		resolver = SystemResolver{}
	}
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = NormalizeHost(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLValidator{
		policy:       policy,
		allowedHosts: hosts,
		resolver:     resolver,
	}
}

// WithPins returns a copy of v that records resolved addresses in pins.
func (v *URLValidator) WithPins(pins *PinSet) *URLValidator {
	c := *v
	c.pins = pins
	return &c
}

// Policy returns the egress policy in force.
func (v *URLValidator) Policy() EgressPolicy {
	return v.policy
}

// Resolver returns the resolver used for host lookups.
func (v *URLValidator) Resolver() Resolver {
	return v.resolver
}

// Validate parses raw and checks it. Checks run in a fixed order and the
// first failure is returned.
func (v *URLValidator) Validate(ctx context.Context, raw string) (*ValidatedURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, newPolicyError(CodeURLInvalid, err.Error()).WithCause(err)
	}
	return v.ValidateURL(ctx, u)
}

// ValidateURL checks an already parsed URL. Redirect targets go through
// here on every hop.
func (v *URLValidator) ValidateURL(ctx context.Context, u *url.URL) (*ValidatedURL, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, newPolicyError(CodeURLSchemeNotAllowed, u.Scheme)
	}

	if u.User != nil {
		return nil, newPolicyError(CodeURLUserinfoNotAllowed)
	}

	host := NormalizeHost(u.Hostname())
	if host == "" {
		return nil, newPolicyError(CodeURLHostMissing)
	}

	if len(v.allowedHosts) > 0 && !slices.Contains(v.allowedHosts, host) {
		return nil, newPolicyError(CodeURLHostNotAllowed, host)
	}

	addrs, err := v.addresses(ctx, host)
	if err != nil {
		return nil, err
	}

	for _, a := range addrs {
		if !v.policy.Allows(a) {
			return nil, newPolicyError(CodeURLBlocked)
		}
	}

	if v.pins != nil {
		v.pins.Pin(host, addrs)
	}

	return &ValidatedURL{URL: u, Host: host, Addrs: addrs}, nil
}

// addresses returns the literal address for IP hosts, or resolves names.
func (v *URLValidator) addresses(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	addrs, err := v.resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil, dnsFailure(err.Error(), err)
	}
	if len(addrs) == 0 {
		return nil, dnsFailure("no addresses resolved", nil)
	}
	return addrs, nil
}

// NormalizeHost lowercases a host and trims one trailing dot.
func NormalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
