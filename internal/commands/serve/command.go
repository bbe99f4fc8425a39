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


// Package serve implements the serve command, which exposes the usage test
// endpoint over HTTP.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/usageprobe/internal/api"
	"github.com/tombee/usageprobe/internal/commands/shared"
	"github.com/tombee/usageprobe/internal/config"
	"github.com/tombee/usageprobe/internal/log"
	"github.com/tombee/usageprobe/internal/tracing"
	"github.com/tombee/usageprobe/pkg/security"
	"github.com/tombee/usageprobe/pkg/usagescript"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the usage test HTTP API",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Serve starts an HTTP server exposing:

  POST /api/usage/test   run a usage script
  GET  /healthz          liveness and active egress policy
  GET  /metrics          Prometheus metrics
  GET  /version          build information

When the listen address is reachable from other hosts and no egress policy
was configured, the strict policy is selected automatically.

With --config, the file is watched and the script engine is rebuilt on
every valid change. Invalid files are logged and ignored.`,
		Example: `  # Listen on the default loopback address
  usageprobe serve

  # Listen on all interfaces (strict egress unless configured otherwise)
  usageprobe serve --addr 0.0.0.0:8787 --config ./usageprobe.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default 127.0.0.1:8787)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, addr string) error {
	cfg, path, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())
	v, _, _ := shared.GetVersion()
	logger.Info("usageprobe starting", slog.String("version", v))

	provider, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    "usageprobe",
		ServiceVersion: v,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return shared.NewInvalidInputError("failed to configure tracing", err)
	}
	engineOpts := []usagescript.Option{usagescript.WithTracerProvider(provider.TracerProvider())}

	enforceBindPolicy(cfg, cfg.Server.Addr, logger)
	engine, err := shared.NewEngine(cfg, logger, engineOpts...)
	if err != nil {
		return err
	}
	holder := api.NewEngineHolder(engine)

	router := api.NewRouter(cfg.Server, holder, v, logger)
	server := api.New(cfg.Server, router.Handler(), log.WithComponent(logger, "api"))

	if path != "" {
		watcher, err := config.NewWatcher(path, logger)
		if err != nil {
			logger.Warn("config reload disabled", log.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
			r := &reloader{
				server:     cfg.Server,
				addrPinned: addr != "",
				holder:     holder,
				logger:     logger,
				options:    engineOpts,
			}
			go r.run(ctx, watcher.Updates())
		}
	}

	logger.Info("usageprobe ready",
		slog.String("addr", cfg.Server.Addr),
		slog.String("egress_policy", holder.Load().Config().EgressPolicy.String()),
		slog.String("config", path))

	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", log.Error(err))
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown error", log.Error(err))
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// enforceBindPolicy selects the strict egress policy when addr is reachable
// from other hosts and the configuration leaves the policy unset. It
// reports whether the policy was changed.
func enforceBindPolicy(cfg *config.Config, addr string, logger *slog.Logger) bool {
	if cfg.EgressPolicyConfigured() || !config.PublicBind(addr) {
		return false
	}
	cfg.UsageScript.EgressPolicy = security.EgressStrict.String()
	logger.Warn("listening beyond loopback without an egress policy; using strict",
		slog.String("addr", addr))
	return true
}

// reloader rebuilds the engine for each configuration the watcher publishes.
type reloader struct {
	server config.ServerConfig

	// addrPinned is set when --addr overrides the file
	addrPinned bool

	holder  *api.EngineHolder
	logger  *slog.Logger
	options []usagescript.Option
}

func (r *reloader) run(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			r.apply(cfg)
		}
	}
}

// apply swaps in an engine built from cfg. Server settings need a restart;
// a change to them is logged and otherwise ignored.
func (r *reloader) apply(cfg *config.Config) {
	if r.addrPinned {
		cfg.Server.Addr = r.server.Addr
	}
	if cfg.Server != r.server {
		r.logger.Warn("server settings changed; restart to apply them")
	}

	enforceBindPolicy(cfg, r.server.Addr, r.logger)
	engine, err := shared.NewEngine(cfg, r.logger, r.options...)
	if err != nil {
		r.logger.Warn("keeping previous script engine", log.Error(err))
		return
	}

	r.holder.Swap(engine)
	r.logger.Info("script engine reloaded",
		slog.String("egress_policy", engine.Config().EgressPolicy.String()))
}
