// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package status

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/errutil"
)

// DefaultDrainInterval is the pause between drain passes.
const DefaultDrainInterval = 100 * time.Millisecond

// Sink receives every folded record, e.g. to persist history.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Aggregator drains the status channels of registered plugins into a Table.
type Aggregator struct {
	table    *Table
	interval time.Duration
	log      *slog.Logger
	sink     Sink

	mu      sync.Mutex
	sources map[string]<-chan protocol.StatusUpdate

	// drainMu keeps concurrent drain passes from folding one channel's
	// updates out of order.
	drainMu sync.Mutex
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithInterval sets the pause between drain passes.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithSink sends every folded record to sink.
func WithSink(sink Sink) Option {
	return func(a *Aggregator) { a.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAggregator creates an aggregator folding into table.
func NewAggregator(table *Table, opts ...Option) *Aggregator {
	a := &Aggregator{
		table:    table,
		interval: DefaultDrainInterval,
		log:      slog.Default(),
		sources:  make(map[string]<-chan protocol.StatusUpdate),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Table returns the table the aggregator folds into.
func (a *Aggregator) Table() *Table { return a.table }

// Add registers the status channel of pluginID, replacing any previous one.
func (a *Aggregator) Add(pluginID string, ch <-chan protocol.StatusUpdate) {
	if ch == nil {
		return
	}
	a.mu.Lock()
	a.sources[pluginID] = ch
	a.mu.Unlock()
}

// Remove stops draining pluginID's channel. Its record stays in the table.
func (a *Aggregator) Remove(pluginID string) {
	a.mu.Lock()
	delete(a.sources, pluginID)
	a.mu.Unlock()
}

// Publish folds an update originating in the host process.
func (a *Aggregator) Publish(ctx context.Context, pluginID string, data any) Record {
	return a.fold(ctx, protocol.StatusUpdate{
		PluginID: pluginID,
		Data:     data,
		Time:     time.Now().UTC(),
		Source:   protocol.SourceLocal,
	})
}

// DrainOnce non-blockingly folds every update currently queued on the
// registered channels and returns how many were folded.
func (a *Aggregator) DrainOnce(ctx context.Context) int {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	a.mu.Lock()
	ids := make([]string, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	sources := make([]<-chan protocol.StatusUpdate, len(ids))
	sort.Strings(ids)
	for i, id := range ids {
		sources[i] = a.sources[id]
	}
	a.mu.Unlock()

	n := 0
	for i, ch := range sources {
	drain:
		for {
			select {
			case u, ok := <-ch:
				if !ok {
					a.Remove(ids[i])
					break drain
				}
				// A channel only speaks for the plugin it was registered under.
				if u.PluginID != "" && u.PluginID != ids[i] {
					a.log.Warn("status update names another plugin", "plugin", ids[i], "claimed", u.PluginID)
				}
				u.PluginID = ids[i]
				a.fold(ctx, u)
				n++
			default:
				break drain
			}
		}
	}
	return n
}

// Run drains every interval until ctx is cancelled, then makes one final
// pass so updates sent before shutdown are not lost.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.DrainOnce(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			a.DrainOnce(ctx)
		}
	}
}

func (a *Aggregator) fold(ctx context.Context, u protocol.StatusUpdate) Record {
	rec := a.table.Fold(u)
	UpdatesFolded.WithLabelValues(rec.PluginID, string(rec.Source)).Inc()
	if a.sink != nil {
		if err := a.sink.Record(ctx, rec); err != nil {
			SinkFailures.Inc()
			errutil.LogError(a.log, "status sink failed", err)
		}
	}
	return rec
}
