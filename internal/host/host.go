// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package host is the plugin host's public surface: it loads plugins from
// descriptors, lists their capabilities, forwards triggers to their
// processes and reports their latest status.
package host

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/plughost/internal/capability"
	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/supervisor"
	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

var tracer = otel.Tracer("plughost/host")

// PluginInfo is the listing of one loaded plugin.
type PluginInfo struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string             `json:"version,omitempty" yaml:"version,omitempty"`
	Entry       string             `json:"entry" yaml:"entry"`
	Pid         int                `json:"pid,omitempty" yaml:"pid,omitempty"`
	Running     bool               `json:"running" yaml:"running"`
	Entries     []plugin.EntryMeta `json:"entries" yaml:"entries"`
}

type loaded struct {
	info PluginInfo
	sup  *supervisor.Supervisor
}

// Host owns every loaded plugin: their supervisors, the static catalog of
// their entries, their grants and the status table.
type Host struct {
	version        string
	factory        supervisor.Factory
	supCfg         supervisor.Config
	log            *slog.Logger
	triggerTimeout time.Duration
	statsInterval  time.Duration
	statusOpts     []status.Option

	catalog  *Catalog
	enforcer *capability.Enforcer
	table    *status.Table
	agg      *status.Aggregator

	// loadMu serializes Load, Unload and ShutdownAll.
	loadMu  sync.Mutex
	mu      sync.RWMutex
	plugins map[string]*loaded
	closed  bool
}

// New creates a host with no plugins loaded.
func New(opts ...Option) *Host {
	h := &Host{
		version:        DevVersion,
		log:            slog.Default(),
		triggerTimeout: DefaultTriggerTimeout,
		statsInterval:  DefaultStatsInterval,
		catalog:        NewCatalog(),
		enforcer:       capability.NewEnforcer(),
		table:          status.NewTable(),
		plugins:        make(map[string]*loaded),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.factory == nil {
		h.factory = &supervisor.GoPluginFactory{}
	}
	if h.supCfg.Logger == nil {
		h.supCfg.Logger = h.log
	}
	h.agg = status.NewAggregator(h.table, append([]status.Option{status.WithLogger(h.log)}, h.statusOpts...)...)
	return h
}

// Catalog returns the static entry catalog.
func (h *Host) Catalog() *Catalog { return h.catalog }

// Inspect resolves desc's entries statically, without spawning the plugin
// for real. Factories that cannot describe plugins yield only the entries
// declared by the descriptor.
func (h *Host) Inspect(ctx context.Context, desc plugin.Descriptor) (PluginInfo, error) {
	errb := oops.In("host").With("plugin", desc.ID)
	if err := desc.Validate(); err != nil {
		return PluginInfo{}, errb.Code(errutil.CodeInvalidDescriptor).Wrap(err)
	}
	info := PluginInfo{
		ID:          desc.ID,
		Name:        desc.DisplayName(),
		Description: desc.Description,
		Version:     desc.Version,
		Entry:       desc.Entry,
	}
	describer, ok := h.factory.(supervisor.Describer)
	if !ok {
		info.Entries = plugin.StaticEntries(nil, desc.Entries)
		return info, nil
	}
	loc, err := supervisor.ParseLocator(desc.Entry)
	if err != nil {
		return PluginInfo{}, errb.Code(errutil.CodeInvalidDescriptor).Wrap(err)
	}
	d, err := describer.Describe(ctx, desc)
	if err != nil {
		return PluginInfo{}, errb.Code(errutil.CodeSpawnFailure).Wrapf(err, "describe plugin %s", desc.ID)
	}
	def, ok := d.Find(loc.Definition)
	if !ok {
		return PluginInfo{}, errb.Code(errutil.CodeSpawnFailure).
			With("definition", loc.Definition).
			Errorf("plugin %s has no definition %q", desc.ID, loc.Definition)
	}
	if info.Description == "" {
		info.Description = def.Description
	}
	if info.Version == "" {
		info.Version = def.Version
	}
	info.Entries = plugin.MergeDeclared(def.Entries, desc.Entries)
	return info, nil
}

// Load validates desc, starts its process and registers its entries. A
// failure affects this plugin only and leaves the host usable.
func (h *Host) Load(ctx context.Context, desc plugin.Descriptor) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	errb := oops.In("host").With("plugin", desc.ID)
	h.mu.RLock()
	closed := h.closed
	_, exists := h.plugins[desc.ID]
	h.mu.RUnlock()
	if closed {
		return errb.Code(errutil.CodeHostClosed).Errorf("host is shut down")
	}
	if exists {
		return errb.Code(errutil.CodeAlreadyLoaded).Errorf("plugin %s is already loaded", desc.ID)
	}
	if compatible, err := desc.Compatible(h.version); err != nil || !compatible {
		return errb.Code(errutil.CodeInvalidDescriptor).
			With("requires", desc.Requires).
			With("host_version", h.version).
			Errorf("plugin %s requires host %s, running %s", desc.ID, desc.Requires, h.version)
	}

	info, err := h.Inspect(ctx, desc)
	if err != nil {
		h.spawnFailed(ctx, desc.ID, err)
		return err
	}
	if err := h.enforcer.SetGrants(desc.ID, desc.Grants); err != nil {
		return errb.Code(errutil.CodeInvalidDescriptor).Wrapf(err, "invalid grants")
	}

	sup := supervisor.New(desc, h.factory, h.supCfg)
	if err := sup.Start(ctx); err != nil {
		h.enforcer.RemoveGrants(desc.ID)
		h.spawnFailed(ctx, desc.ID, err)
		return err
	}

	loc, _ := supervisor.ParseLocator(desc.Entry)
	for _, problem := range h.catalog.Set(desc.ID, loc.Definition, info.Entries) {
		errutil.Log(h.log, slog.LevelWarn, "input schema ignored", problem)
	}
	info.Pid = sup.Pid()

	h.mu.Lock()
	h.plugins[desc.ID] = &loaded{info: info, sup: sup}
	h.mu.Unlock()
	h.agg.Add(desc.ID, sup.Status())
	ProcessesRunning.Inc()

	h.log.Info("plugin loaded", "plugin", desc.ID, "entries", len(info.Entries), "pid", info.Pid)
	return nil
}

func (h *Host) spawnFailed(ctx context.Context, pluginID string, err error) {
	SpawnFailures.WithLabelValues(pluginID).Inc()
	h.agg.Publish(ctx, pluginID, map[string]any{"state": "spawn_failed", "error": err.Error()})
}

// LoadAll loads every descriptor. Failures are logged and skipped so one
// broken plugin does not keep the others from starting. It returns the ids
// that loaded.
func (h *Host) LoadAll(ctx context.Context, descs []plugin.Descriptor) []string {
	var ok []string
	for _, desc := range descs {
		if err := h.Load(ctx, desc); err != nil {
			errutil.LogError(h.log, "failed to load plugin", err)
			continue
		}
		ok = append(ok, desc.ID)
	}
	return ok
}

// Unload stops one plugin and forgets its entries. Its last status stays
// readable.
func (h *Host) Unload(ctx context.Context, pluginID string, timeout time.Duration) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	h.mu.Lock()
	p, ok := h.plugins[pluginID]
	delete(h.plugins, pluginID)
	h.mu.Unlock()
	if !ok {
		return oops.Code(errutil.CodeNotFound).In("host").With("plugin", pluginID).Errorf("plugin %s is not loaded", pluginID)
	}
	h.stop(ctx, pluginID, p, timeout)
	return nil
}

func (h *Host) stop(ctx context.Context, pluginID string, p *loaded, timeout time.Duration) {
	p.sup.Shutdown(timeout)
	// Fold whatever the plugin published on its way out before the stopped
	// record.
	h.agg.DrainOnce(ctx)
	h.agg.Remove(pluginID)
	h.catalog.Remove(pluginID)
	h.enforcer.RemoveGrants(pluginID)
	forgetProcess(pluginID)
	ProcessesRunning.Dec()
	h.agg.Publish(ctx, pluginID, map[string]any{"state": "stopped"})
	h.log.Info("plugin unloaded", "plugin", pluginID)
}

// ShutdownAll stops every plugin concurrently, each bounded by timeout plus
// its escalation timeout. The host accepts no further loads.
func (h *Host) ShutdownAll(timeout time.Duration) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	h.mu.Lock()
	h.closed = true
	plugins := h.plugins
	h.plugins = make(map[string]*loaded)
	h.mu.Unlock()

	ctx := context.Background()
	var wg sync.WaitGroup
	for id, p := range plugins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.stop(ctx, id, p, timeout)
		}()
	}
	wg.Wait()
}

func (h *Host) lookup(pluginID string) (*loaded, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.plugins[pluginID]
	return p, ok
}

// Trigger invokes entryID of pluginID and waits up to timeout (the host
// default when zero) for its result. Arguments and results cross the
// process boundary as JSON values: numbers arrive as float64, and integers
// beyond ±2^53 are rejected (INVALID_ARGS for args, a failed result for
// return values) instead of being rounded.
func (h *Host) Trigger(ctx context.Context, pluginID, entryID string, args map[string]any, timeout time.Duration) (result any, err error) {
	ctx, span := tracer.Start(ctx, "plugin.trigger",
		trace.WithAttributes(
			attribute.String("plugin.id", pluginID),
			attribute.String("plugin.entry", entryID),
		),
	)
	start := time.Now()
	defer func() {
		recordTrigger(pluginID, entryID, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("plugin.error_code", errutil.CodeOf(err)))
		}
		span.End()
	}()

	errb := oops.In("host").With("plugin", pluginID).With("entry", entryID)
	p, ok := h.lookup(pluginID)
	if !ok {
		return nil, errb.Code(errutil.CodeNotFound).Errorf("plugin %s is not loaded", pluginID)
	}
	if !h.enforcer.AllowsEntry(pluginID, entryID) {
		return nil, errb.Code(errutil.CodePermissionDenied).
			With("capability", capability.ForEntry(entryID)).
			Errorf("entry %s of plugin %s is not granted", entryID, pluginID)
	}
	if entry, ok := h.catalog.Get(pluginID, entryID); ok {
		normalized, err := protocol.Normalize(args)
		if err != nil {
			return nil, errb.Code(errutil.CodeInvalidArgs).Wrapf(err, "arguments are not JSON-compatible")
		}
		doc, _ := normalized.(map[string]any)
		if err := entry.Validate(doc); err != nil {
			return nil, err
		}
	}
	if timeout <= 0 {
		timeout = h.triggerTimeout
	}
	span.SetAttributes(attribute.String("plugin.timeout", timeout.String()))
	return p.sup.Trigger(ctx, entryID, args, timeout)
}

// ListPlugins describes every loaded plugin, sorted by id.
func (h *Host) ListPlugins() []PluginInfo {
	h.mu.RLock()
	out := make([]PluginInfo, 0, len(h.plugins))
	for _, p := range h.plugins {
		info := p.info
		info.Running = p.sup.Running()
		info.Entries = h.catalog.Entries(info.ID)
		out = append(out, info)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPluginStatus returns the latest status of pluginID, or an empty record
// when it never reported one.
func (h *Host) GetPluginStatus(pluginID string) status.Record {
	return h.table.Get(pluginID)
}

// AllPluginStatus returns a copy of every plugin's latest status.
func (h *Host) AllPluginStatus() map[string]status.Record {
	return h.table.All()
}

// Ready reports whether the host accepts work.
func (h *Host) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed
}

// Run aggregates status updates and samples process resource usage until
// ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.agg.Run(ctx)
	}()

	ticker := time.NewTicker(h.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			h.sampleStats()
		}
	}
}

func (h *Host) sampleStats() {
	h.mu.RLock()
	sups := make(map[string]*supervisor.Supervisor, len(h.plugins))
	for id, p := range h.plugins {
		sups[id] = p.sup
	}
	h.mu.RUnlock()

	for id, sup := range sups {
		reporter, ok := sup.Process().(supervisor.StatsReporter)
		if !ok {
			continue
		}
		stats, err := reporter.Stats()
		if err != nil {
			h.log.Debug("process stats unavailable", "plugin", id, "error", err)
			continue
		}
		ProcessRSS.WithLabelValues(id).Set(float64(stats.RSSBytes))
		ProcessCPU.WithLabelValues(id).Set(stats.CPUPercent)
	}
}
