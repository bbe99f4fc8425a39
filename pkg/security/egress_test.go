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
	"net/netip"
	"testing"
)

func TestEgressPolicy_Allows(t *testing.T) {
	tests := []struct {
		addr    string
		strict  bool
		trusted bool
		class   AddressClass
	}{
		{"8.8.8.8", true, true, ClassPublic},
		{"2001:4860:4860::8888", true, true, ClassPublic},
		{"127.0.0.1", false, true, ClassLoopback},
		{"127.1.2.3", false, true, ClassLoopback},
		{"::1", false, true, ClassLoopback},
		{"10.0.0.1", false, true, ClassPrivate},
		{"172.16.0.1", false, true, ClassPrivate},
		{"172.31.255.255", false, true, ClassPrivate},
		{"172.32.0.1", true, true, ClassPublic},
		{"192.168.1.1", false, true, ClassPrivate},
		{"fd00::1", false, true, ClassPrivate},
		{"fc00::1", false, true, ClassPrivate},
		{"169.254.169.254", false, false, ClassLinkLocal},
		{"fe80::1", false, false, ClassLinkLocal},
		{"0.0.0.0", false, false, ClassUnspecified},
		{"::", false, false, ClassUnspecified},
		{"224.0.0.1", false, false, ClassMulticast},
		{"239.255.255.250", false, false, ClassMulticast},
		{"ff02::1", false, false, ClassMulticast},
		{"255.255.255.255", false, false, ClassBroadcast},
		{"::ffff:127.0.0.1", false, true, ClassLoopback},
		{"::ffff:169.254.169.254", false, false, ClassLinkLocal},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.addr)

			if got := EgressStrict.Allows(addr); got != tt.strict {
				t.Errorf("EgressStrict.Allows(%s) = %v, want %v", tt.addr, got, tt.strict)
			}
			if got := EgressTrusted.Allows(addr); got != tt.trusted {
				t.Errorf("EgressTrusted.Allows(%s) = %v, want %v", tt.addr, got, tt.trusted)
			}
			if got := IsDisallowed(addr, EgressStrict); got == tt.strict {
				t.Errorf("IsDisallowed(%s, strict) = %v, want %v", tt.addr, got, !tt.strict)
			}
			if got := Classify(addr); got != tt.class {
				t.Errorf("Classify(%s) = %v, want %v", tt.addr, got, tt.class)
			}
		})
	}
}

func TestParseEgressPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    EgressPolicy
		wantErr bool
	}{
		{"", EgressTrusted, false},
		{"trusted", EgressTrusted, false},
		{"strict", EgressStrict, false},
		{" STRICT ", EgressStrict, false},
		{"paranoid", EgressTrusted, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEgressPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEgressPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEgressPolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEgressPolicy_TextRoundTrip(t *testing.T) {
	var p EgressPolicy
	if err := p.UnmarshalText([]byte("strict")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	text, _ := p.MarshalText()
	if string(text) != "strict" {
		t.Errorf("MarshalText() = %q, want strict", text)
	}
}
