// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/observability"
	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/supervisor"
)

// observabilityStopTimeout bounds the observability server shutdown.
const observabilityStopTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the configured plugins and supervise them",
		Long: `Load every configured plugin in its own process, aggregate their status
and serve metrics and health probes until SIGINT or SIGTERM. Plugins that
fail to load are logged and skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PluginFactory == nil {
		deps.PluginFactory = &supervisor.GoPluginFactory{
			Logger:       logging.HCLogger("plughost", cfg.Log.Format, cfg.Log.Level, os.Stderr),
			LogLevel:     cfg.Log.Level,
			StartTimeout: cfg.Timeouts.Start,
		}
	}
	if deps.JournalFactory == nil {
		deps.JournalFactory = openJournal
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, regs ...observability.Registration) ObservabilityServer {
			return observability.NewServer(addr, ready, regs...)
		}
	}
	if deps.Signals == nil {
		deps.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.SetDefault("plughost", version, cfg.Log.Format, cfg.Log.Level)

	statusOpts := []status.Option{status.WithInterval(cfg.Status.DrainInterval)}
	if cfg.Status.DatabaseURL != "" {
		journal, err := deps.JournalFactory(ctx, cfg.Status.DatabaseURL)
		if err != nil {
			return err
		}
		defer journal.Close()
		statusOpts = append(statusOpts, status.WithSink(journal))
		logger.Info("status journal enabled")
	}

	h := host.New(
		host.WithFactory(deps.PluginFactory),
		host.WithLogger(logger),
		host.WithVersion(version),
		host.WithSupervisorConfig(cfg.SupervisorSettings()),
		host.WithTriggerTimeout(cfg.Timeouts.Trigger),
		host.WithStatusOptions(statusOpts...),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := h.Run(ctx); err != nil {
			logger.Error("host run loop failed", "error", err)
		}
	}()

	loaded := h.LoadAll(ctx, cfg.Plugins)
	logger.Info("plugins loaded", "loaded", len(loaded), "configured", len(cfg.Plugins))

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, h.Ready, host.RegisterMetrics, status.RegisterMetrics)
		obsServer.HandleJSON("/status", func() any { return h.AllPluginStatus() })
		obsServer.HandleJSON("/plugins", func() any { return h.ListPlugins() })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			h.ShutdownAll(cfg.Timeouts.Shutdown)
			cancel()
			<-runDone
			return oops.With("addr", cfg.Metrics.Addr).Wrapf(err, "failed to start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Println("plughost started")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down", "plugins", len(h.ListPlugins()))
	h.ShutdownAll(cfg.Timeouts.Shutdown)
	cancel()
	<-runDone

	if obsServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), observabilityStopTimeout)
		defer stopCancel()
		if err := obsServer.Stop(stopCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when the server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
