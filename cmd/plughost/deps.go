// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"time"

	"github.com/holomush/plughost/internal/observability"
	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/supervisor"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PluginFactory spawns plugin processes.
	// Default: supervisor.GoPluginFactory
	PluginFactory supervisor.Factory

	// JournalFactory opens the status journal for a database URL.
	// Default: openJournal
	JournalFactory func(ctx context.Context, url string) (Journal, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, regs ...observability.Registration) ObservabilityServer

	// Signals returns the channel shutdown signals arrive on and a func
	// that stops delivery.
	// Default: SIGINT and SIGTERM
	Signals func() (<-chan os.Signal, func())
}

// Journal wraps the methods used from store.StatusJournal plus its pool.
type Journal interface {
	status.Sink
	History(ctx context.Context, pluginID string, limit int) ([]status.Record, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	HandleJSON(pattern string, snap observability.Snapshot)
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
