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
	"net"
	"net/netip"
	"strconv"
	"time"
)

// Dialer connects only to addresses the egress policy permits. Hosts
// already pinned by the validator are dialed at their pinned addresses
// without a second lookup.
type Dialer struct {
	Policy   EgressPolicy
	Resolver Resolver
	Pins     *PinSet
	Timeout  time.Duration
}

// DialContext satisfies http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	addrs, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	for _, a := range addrs {
		if !d.Policy.Allows(a) {
			return nil, newPolicyError(CodeURLBlocked)
		}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	var lastErr error
	for _, a := range addrs {
		target := netip.AddrPortFrom(canonical(a), uint16(port)).String()
		conn, err := dialer.DialContext(ctx, network, target)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Dialer) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	if d.Pins != nil {
		if addrs, ok := d.Pins.Lookup(host); ok {
			return addrs, nil
		}
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = SystemResolver{}
	}
	addrs, err := resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil, dnsFailure(err.Error(), err)
	}
	if len(addrs) == 0 {
		return nil, dnsFailure("no addresses resolved", nil)
	}
	if d.Pins != nil {
		d.Pins.Pin(host, addrs)
	}
	return addrs, nil
}
