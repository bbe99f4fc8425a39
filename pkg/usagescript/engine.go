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

// Package usagescript runs user-authored usage query scripts.
//
// A script is JavaScript that evaluates to an object with a request
// description and an extractor function:
//
//	({
//	  request: {
//	    url: "{{baseUrl}}/v1/balance",
//	    method: "GET",
//	    headers: { "Authorization": "Bearer {{apiKey}}" }
//	  },
//	  extractor: function (response) {
//	    return { remaining: response.balance, unit: "USD" };
//	  }
//	})
//
// Engine.Execute substitutes the variables, evaluates the script to obtain
// the request, validates it against the egress policy, sends it, then
// evaluates the script again in a fresh runtime and hands the parsed
// response to the extractor. The extractor's return value is checked
// against the usage schema before it is returned.
package usagescript

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	internallog "github.com/tombee/usageprobe/internal/log"
	"github.com/tombee/usageprobe/internal/tracing"
	probeerrors "github.com/tombee/usageprobe/pkg/errors"
	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript/sandbox"
)

const (
	tracerName = "github.com/tombee/usageprobe/pkg/usagescript"

	// dnsQueryTimeout bounds each query to a configured DNS server.
	dnsQueryTimeout = 5 * time.Second
)

// Input is one invocation's script, variables and timeout.
type Input struct {
	// Script is the unsubstituted script source
	Script string

	Variables

	// Timeout bounds each interpreter phase and the HTTP request. Zero
	// means DefaultTimeout; other values are clamped to [2s, 30s].
	Timeout time.Duration
}

// Engine executes usage scripts. It is safe for concurrent use; each
// Execute call owns its runtimes, HTTP client and DNS pins.
type Engine struct {
	cfg       Config
	validator *security.URLValidator
	exec      *executor
	logger    *slog.Logger
	tracer    trace.Tracer
}

type options struct {
	logger   *slog.Logger
	resolver security.Resolver
	tracers  trace.TracerProvider
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithResolver replaces the host resolver. It takes precedence over
// Config.DNSServers.
func WithResolver(r security.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTracerProvider sets where phase spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracers = tp }
}

// New creates an Engine. The configuration is copied.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, probeerrors.New(probeerrors.CategorySetup, CodeEngineConfigInvalid, err.Error()).WithCause(err)
	}
	cfg.AllowedHosts = slices.Clone(cfg.AllowedHosts)
	cfg.DNSServers = slices.Clone(cfg.DNSServers)

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracers == nil {
		o.tracers = otel.GetTracerProvider()
	}
	if o.resolver == nil && len(cfg.DNSServers) > 0 {
		o.resolver = security.NewUpstreamResolver(cfg.DNSServers, dnsQueryTimeout)
	}

	validator := security.NewURLValidator(cfg.EgressPolicy, cfg.AllowedHosts, o.resolver)
	logger := internallog.WithComponent(o.logger, "usagescript")

	return &Engine{
		cfg:       cfg,
		validator: validator,
		exec:      &executor{cfg: cfg, validator: validator, logger: logger},
		logger:    logger,
		tracer:    o.tracers.Tracer(tracerName),
	}, nil
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	c := e.cfg
	c.AllowedHosts = slices.Clone(e.cfg.AllowedHosts)
	c.DNSServers = slices.Clone(e.cfg.DNSServers)
	return c
}

// Execute runs one invocation. Every failure is an *errors.Error carrying
// a stable code; there is no fallback result.
func (e *Engine) Execute(ctx context.Context, in Input) (result *Result, err error) {
	ctx, corrID := tracing.EnsureContext(ctx)
	logger := internallog.WithCorrelationID(e.logger, corrID.String())

	ctx, span := e.tracer.Start(ctx, "usagescript.Execute", trace.WithAttributes(
		attribute.String("usageprobe.egress_policy", e.cfg.EgressPolicy.String()),
		attribute.String("usageprobe.correlation_id", corrID.String()),
	))
	defer span.End()

	inflightInvocations.Inc()
	defer inflightInvocations.Dec()

	timeout := in.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	timeout = sandbox.ClampTimeout(timeout)
	limits := e.cfg.sandboxLimits(timeout)
	secrets := in.secrets()
	src := Substitute(in.Script, in.Variables)

	inv, err := newInvocation(logger.Handler())
	if err != nil {
		return nil, probeerrors.New(probeerrors.CategorySetup, CodeInvocationStateInvalid, err.Error()).WithCause(err)
	}
	start := time.Now()
	defer func() {
		e.finish(span, logger, inv, time.Since(start), secrets, err)
	}()

	var requestJSON string
	err = e.step(ctx, inv, logger, phaseExtractRequest, func(ctx context.Context) (stepErr error) {
		requestJSON, stepErr = sandbox.ExtractRequest(ctx, src, limits)
		return stepErr
	})
	if err != nil {
		return nil, err
	}

	var reqCfg *RequestConfig
	err = e.step(ctx, inv, logger, phaseValidateRequest, func(ctx context.Context) (stepErr error) {
		reqCfg, stepErr = ParseRequestConfig(requestJSON)
		if stepErr != nil {
			return stepErr
		}
		if stepErr = reqCfg.Validate(e.cfg.requestLimits()); stepErr != nil {
			return stepErr
		}
		internallog.Trace(ctx, logger, "request config",
			slog.String("method", reqCfg.canonicalMethod()),
			slog.String("url", redactSecrets(reqCfg.URL, secrets)),
			slog.Int("headers", len(reqCfg.Headers)),
			slog.Bool("has_body", reqCfg.Body != nil))
		return nil
	})
	if err != nil {
		return nil, err
	}

	pins := security.NewPinSet()
	var target *security.ValidatedURL
	err = e.step(ctx, inv, logger, phaseValidateURL, func(ctx context.Context) (stepErr error) {
		target, stepErr = e.validator.WithPins(pins).Validate(ctx, reqCfg.URL)
		return stepErr
	})
	if err != nil {
		return nil, err
	}

	var body []byte
	err = e.step(ctx, inv, logger, phaseSendRequest, func(ctx context.Context) (stepErr error) {
		trace.SpanFromContext(ctx).SetAttributes(
			semconv.HTTPRequestMethodKey.String(reqCfg.canonicalMethod()),
			semconv.ServerAddress(target.Host),
		)
		body, stepErr = e.exec.send(ctx, outbound{
			request: reqCfg,
			target:  target,
			pins:    pins,
			timeout: timeout,
			secrets: secrets,
		})
		if stepErr == nil {
			recordResponseSize(len(body))
		}
		return stepErr
	})
	if err != nil {
		return nil, err
	}

	var extracted string
	err = e.step(ctx, inv, logger, phaseExtractResult, func(ctx context.Context) (stepErr error) {
		extracted, stepErr = sandbox.RunExtractor(ctx, src, string(body), limits)
		return stepErr
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, inv, logger, phaseValidateResult, func(ctx context.Context) (stepErr error) {
		result, stepErr = ValidateResult(extracted)
		return stepErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// step advances the invocation to p and runs fn inside a child span.
func (e *Engine) step(ctx context.Context, inv *invocation, logger *slog.Logger, p string, fn func(context.Context) error) error {
	if err := inv.Transition(p); err != nil {
		return probeerrors.New(probeerrors.CategorySetup, CodeInvocationStateInvalid, err.Error()).WithCause(err)
	}

	ctx, span := e.tracer.Start(ctx, "usagescript."+p)
	defer span.End()

	start := time.Now()
	logger.Debug("phase started", slog.String(internallog.PhaseKey, p))

	err := fn(ctx)
	elapsed := time.Since(start)
	recordPhase(p, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, probeerrors.CodeOf(err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	logger.Debug("phase completed",
		slog.String(internallog.PhaseKey, p),
		internallog.Duration("duration", elapsed.Milliseconds()))
	return nil
}

// finish records the outcome of an invocation.
func (e *Engine) finish(span trace.Span, logger *slog.Logger, inv *invocation, elapsed time.Duration, secrets []string, err error) {
	if err == nil {
		_ = inv.Transition(phaseSucceeded)
		recordOutcome("success", "")
		span.SetStatus(codes.Ok, "")
		logger.Debug("usage script succeeded", internallog.Duration("duration", elapsed.Milliseconds()))
		return
	}

	failedIn := inv.GetState()
	_ = inv.Transition(phaseFailed)

	category, code := "unknown", ""
	if perr, ok := probeerrors.AsError(err); ok {
		category, code = string(perr.Category), perr.Code
		if perr.Category == probeerrors.CategoryNetworkPolicy {
			recordPolicyRejection(perr.Code)
		}
		if perr.StatusCode != 0 {
			span.SetAttributes(semconv.HTTPResponseStatusCode(perr.StatusCode))
		}
	}
	recordOutcome("failure", category)

	span.SetAttributes(
		attribute.String("usageprobe.error.code", code),
		attribute.String("usageprobe.error.category", category),
	)
	span.SetStatus(codes.Error, code)

	logger.Warn("usage script failed",
		slog.String(internallog.PhaseKey, failedIn),
		slog.String(internallog.CodeKey, code),
		slog.String("category", category),
		slog.String("error", redactSecrets(err.Error(), secrets)),
		internallog.Duration("duration", elapsed.Milliseconds()))
}

// redactSecrets masks substituted credentials that an error message may
// quote, such as a URL carrying an API key.
func redactSecrets(s string, secrets []string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return s
}
