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
	"net/netip"
	"strings"
)

// EgressPolicy selects which destination addresses outbound requests may reach.
type EgressPolicy int

const (
	// EgressTrusted permits loopback and private ranges. It suits a
	// single-user desktop where the script author is the machine owner.
	EgressTrusted EgressPolicy = iota

	// EgressStrict additionally blocks loopback, RFC1918 and IPv6
	// unique-local destinations.
	EgressStrict
)

// String returns the configuration spelling of the policy.
func (p EgressPolicy) String() string {
	switch p {
	case EgressStrict:
		return "strict"
	default:
		return "trusted"
	}
}

// ParseEgressPolicy parses "strict" or "trusted" (case-insensitive).
// An empty string yields EgressTrusted.
func ParseEgressPolicy(s string) (EgressPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trusted":
		return EgressTrusted, nil
	case "strict":
		return EgressStrict, nil
	default:
		return EgressTrusted, fmt.Errorf("unknown egress policy %q (want strict or trusted)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p EgressPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *EgressPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseEgressPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Allows reports whether the policy permits connecting to addr.
func (p EgressPolicy) Allows(addr netip.Addr) bool {
	if IsAlwaysBlocked(addr) {
		return false
	}
	if p == EgressStrict && IsStrictBlocked(addr) {
		return false
	}
	return true
}

// IsDisallowed is the negation of policy.Allows.
func IsDisallowed(addr netip.Addr, policy EgressPolicy) bool {
	return !policy.Allows(addr)
}

var ipv4Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// canonical strips zones and unmaps IPv4-mapped IPv6 so ::ffff:127.0.0.1
// is judged as 127.0.0.1.
func canonical(addr netip.Addr) netip.Addr {
	return addr.WithZone("").Unmap()
}

// IsAlwaysBlocked reports addresses no policy may reach: link-local,
// unspecified, multicast and the IPv4 limited broadcast address.
func IsAlwaysBlocked(addr netip.Addr) bool {
	a := canonical(addr)
	if !a.IsValid() {
		return true
	}
	return a.IsLinkLocalUnicast() ||
		a.IsUnspecified() ||
		a.IsMulticast() ||
		a == ipv4Broadcast
}

// IsStrictBlocked reports addresses blocked only under EgressStrict:
// loopback and private ranges (10/8, 172.16/12, 192.168/16, fc00::/7).
func IsStrictBlocked(addr netip.Addr) bool {
	a := canonical(addr)
	return a.IsLoopback() || a.IsPrivate()
}

// AddressClass names the range an address belongs to.
type AddressClass string

const (
	ClassPublic      AddressClass = "public"
	ClassLoopback    AddressClass = "loopback"
	ClassPrivate     AddressClass = "private"
	ClassLinkLocal   AddressClass = "link_local"
	ClassUnspecified AddressClass = "unspecified"
	ClassMulticast   AddressClass = "multicast"
	ClassBroadcast   AddressClass = "broadcast"
	ClassInvalid     AddressClass = "invalid"
)

// Classify returns the range an address falls in.
func Classify(addr netip.Addr) AddressClass {
	a := canonical(addr)
	switch {
	case !a.IsValid():
		return ClassInvalid
	case a == ipv4Broadcast:
		return ClassBroadcast
	case a.IsUnspecified():
		return ClassUnspecified
	case a.IsMulticast():
		return ClassMulticast
	case a.IsLinkLocalUnicast():
		return ClassLinkLocal
	case a.IsLoopback():
		return ClassLoopback
	case a.IsPrivate():
		return ClassPrivate
	default:
		return ClassPublic
	}
}
