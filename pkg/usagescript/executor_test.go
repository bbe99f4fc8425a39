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

package usagescript

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/httpclient"
	"github.com/tombee/usageprobe/pkg/security"
)

func TestExecutor_Preview(t *testing.T) {
	tests := []struct {
		name    string
		include bool
		body    string
		want    string
	}{
		{"omitted", false, "secret echo", "<response body omitted>"},
		{"short", true, "bad key", "bad key"},
		{"exactly limit", true, strings.Repeat("a", 200), strings.Repeat("a", 200)},
		{"over limit", true, strings.Repeat("a", 201), strings.Repeat("a", 200) + "..."},
		{"counts characters not bytes", true, strings.Repeat("错", 201), strings.Repeat("错", 200) + "..."},
		{"invalid utf8", true, "ok\xff", "ok�"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := &executor{cfg: Config{IncludeErrorBody: tt.include}}
			assert.Equal(t, tt.want, x.preview([]byte(tt.body)))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExecutor_Classify(t *testing.T) {
	wrap := func(err error) error {
		return &url.Error{Op: "Get", URL: "http://example.com", Err: err}
	}
	blocked := probeerrors.New(probeerrors.CategoryNetworkPolicy, security.CodeURLBlocked)

	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"policy passthrough", wrap(blocked), security.CodeURLBlocked},
		{"redirect cap", wrap(fmt.Errorf("check: %w", httpclient.ErrTooManyRedirects)), CodeTooManyRedirects},
		{"deadline", wrap(context.DeadlineExceeded), CodeRequestTimeout},
		{"net timeout", wrap(timeoutErr{}), CodeRequestTimeout},
		{"dns", wrap(&net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "x"}}), CodeRequestDNS},
		{"refused", wrap(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}), CodeRequestRefused},
		{"unreachable", wrap(&net.OpError{Op: "dial", Err: syscall.ENETUNREACH}), CodeRequestConnect},
		{"bad scheme", wrap(errors.New("unsupported protocol scheme \"gopher\"")), CodeRequestInvalidURL},
		{"other", wrap(errors.New("EOF")), CodeRequestFailed},
	}

	x := &executor{cfg: DefaultConfig()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, probeerrors.CodeOf(x.classify(tt.err)))
		})
	}
}
