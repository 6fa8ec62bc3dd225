// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"log/slog"
	"time"

	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/supervisor"
)

// Defaults for options left unset.
const (
	DefaultTriggerTimeout = 30 * time.Second
	DefaultStatsInterval  = 15 * time.Second
	// DevVersion marks development builds, which skip Requires checks.
	DevVersion = "dev"
)

// Option configures a Host.
type Option func(*Host)

// WithFactory sets how plugin processes are spawned. Without it the host
// uses a go-plugin factory running executables from the descriptors.
func WithFactory(f supervisor.Factory) Option {
	return func(h *Host) { h.factory = f }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.log = l
		}
	}
}

// WithVersion sets the host version checked against descriptor Requires
// constraints.
func WithVersion(v string) Option {
	return func(h *Host) { h.version = v }
}

// WithSupervisorConfig tunes every supervisor the host creates.
func WithSupervisorConfig(cfg supervisor.Config) Option {
	return func(h *Host) { h.supCfg = cfg }
}

// WithTriggerTimeout sets the timeout used when Trigger is given none.
func WithTriggerTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.triggerTimeout = d
		}
	}
}

// WithStatusOptions configures the status aggregator.
func WithStatusOptions(opts ...status.Option) Option {
	return func(h *Host) { h.statusOpts = append(h.statusOpts, opts...) }
}

// WithStatsInterval sets how often Run samples process resource usage.
func WithStatsInterval(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.statsInterval = d
		}
	}
}
