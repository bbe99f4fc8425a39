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
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/httpclient"
	"github.com/tombee/usageprobe/pkg/security"
)

// errorPreviewRunes caps the upstream body quoted in an HTTP error.
const errorPreviewRunes = 200

// executor sends the one outbound request of an invocation.
type executor struct {
	cfg       Config
	validator *security.URLValidator
	logger    *slog.Logger
}

// outbound is everything send needs for one request.
type outbound struct {
	request *RequestConfig
	target  *security.ValidatedURL
	pins    *security.PinSet
	timeout time.Duration
	secrets []string
}

// send performs the request with a client built for this call alone and
// returns the response body. The body is read through the response limit
// before the status is inspected.
func (x *executor) send(ctx context.Context, out outbound) ([]byte, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:        out.timeout,
		UserAgent:      x.cfg.UserAgent,
		Validator:      x.validator,
		Pins:           out.pins,
		AllowRedirects: x.cfg.AllowRedirects,
		MaxRedirects:   x.cfg.MaxRedirects,
		Secrets:        out.secrets,
		Logger:         x.logger,
	})
	if err != nil {
		return nil, probeerrors.New(probeerrors.CategorySetup, CodeClientCreateFailed, err.Error()).WithCause(err)
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, out.timeout)
	defer cancel()

	req, err := x.buildRequest(ctx, out)
	if err != nil {
		return nil, transportError(CodeRequestMalformed, err.Error()).WithCause(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, x.classify(err)
	}

	body, err := httpclient.ReadBody(resp, x.cfg.MaxResponseBytes)
	if err != nil {
		if errors.Is(err, httpclient.ErrBodyTooLarge) {
			return nil, protocolError(CodeResponseTooLarge,
				strconv.FormatInt(x.cfg.MaxResponseBytes, 10)).WithStatus(resp.StatusCode).WithCause(err)
		}
		if isTimeout(err) {
			return nil, transportError(CodeRequestTimeout).WithCause(err)
		}
		return nil, transportError(CodeReadResponseFailed, err.Error()).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, protocolError(CodeHTTPError, resp.Status, x.preview(body)).WithStatus(resp.StatusCode)
	}
	return body, nil
}

func (x *executor) buildRequest(ctx context.Context, out outbound) (*http.Request, error) {
	var body io.Reader
	if out.request.Body != nil {
		body = strings.NewReader(*out.request.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.request.canonicalMethod(), out.target.URL.String(), body)
	if err != nil {
		return nil, err
	}
	for name, value := range out.request.Headers {
		req.Header.Set(name, value)
	}
	return req, nil
}

// preview returns the text quoted in an HTTP error.
func (x *executor) preview(body []byte) string {
	if !x.cfg.IncludeErrorBody {
		return responseBodyOmitted
	}
	text := strings.ToValidUTF8(string(body), "�")
	if utf8.RuneCountInString(text) <= errorPreviewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:errorPreviewRunes]) + "..."
}

// classify maps a client error onto the transport error kinds. Policy and
// DNS errors raised by the dialer or the redirect check pass through.
func (x *executor) classify(err error) error {
	var perr *probeerrors.Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, httpclient.ErrTooManyRedirects) {
		return protocolError(CodeTooManyRedirects, strconv.Itoa(x.cfg.MaxRedirects)).WithCause(err)
	}
	if isTimeout(err) {
		return transportError(CodeRequestTimeout).WithCause(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return transportError(CodeRequestDNS, dnsErr.Err).WithCause(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return transportError(CodeRequestRefused).WithCause(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return transportError(CodeRequestConnect, opErr.Err.Error()).WithCause(err)
	}
	if strings.Contains(err.Error(), "unsupported protocol scheme") {
		return transportError(CodeRequestInvalidURL, err.Error()).WithCause(err)
	}
	return transportError(CodeRequestFailed, err.Error()).WithCause(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func transportError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryTransport, code, args...)
}

func protocolError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryProtocol, code, args...)
}
