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
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Resolver resolves a hostname to its addresses.
type Resolver interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver resolves through the operating system's resolver.
type SystemResolver struct{}

// LookupNetIP implements Resolver.
func (SystemResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for i, a := range addrs {
		addrs[i] = a.Unmap()
	}
	return addrs, nil
}

// UpstreamResolver queries explicit DNS servers for A and AAAA records,
// bypassing the system resolver. Servers are tried in order; the first one
// that answers wins.
type UpstreamResolver struct {
	servers []string
	client  *dns.Client
}

// NewUpstreamResolver creates a resolver for the given servers. Entries
// without a port get :53.
func NewUpstreamResolver(servers []string, timeout time.Duration) *UpstreamResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	return &UpstreamResolver{
		servers: normalized,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupNetIP implements Resolver.
func (r *UpstreamResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.servers) == 0 {
		return nil, errors.New("no upstream DNS servers configured")
	}

	fqdn := dns.Fqdn(host)
	var lastErr error
	for _, server := range r.servers {
		addrs, err := r.query(ctx, server, fqdn)
		if err != nil {
			lastErr = err
			continue
		}
		return addrs, nil
	}
	return nil, lastErr
}

func (r *UpstreamResolver) query(ctx context.Context, server, fqdn string) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", server, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("query %s: %s", server, dns.RcodeToString[resp.Rcode])
		}

		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rec.A); ok {
					out = append(out, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rec.AAAA); ok {
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

// PinSet records the addresses validated for each host during one
// invocation so the dialer connects only to addresses that were checked.
// A rebinding answer between validation and dial cannot redirect the
// connection.
type PinSet struct {
	mu    sync.RWMutex
	hosts map[string][]netip.Addr
}

// NewPinSet creates an empty pin set.
func NewPinSet() *PinSet {
	return &PinSet{hosts: make(map[string][]netip.Addr)}
}

// Pin records addrs for host, replacing any earlier entry.
func (p *PinSet) Pin(host string, addrs []netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts[NormalizeHost(host)] = append([]netip.Addr(nil), addrs...)
}

// Lookup returns the pinned addresses for host.
func (p *PinSet) Lookup(host string) ([]netip.Addr, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	addrs, ok := p.hosts[NormalizeHost(host)]
	return addrs, ok
}
