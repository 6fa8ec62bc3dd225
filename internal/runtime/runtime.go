// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package runtime is the loop that runs one plugin inside its process:
// it constructs the plugin, resolves its entries, runs lifecycle hooks and
// timers, and services commands until told to stop.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/plugin"
)

// Defaults for Config fields left zero.
const (
	DefaultWorkers       = 16
	DefaultPollSlice     = time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultBuffer        = 256
)

// ErrStopped is returned by Enqueue once the runtime no longer accepts
// commands.
var ErrStopped = errors.New("runtime stopped")

// Config configures a Runtime.
type Config struct {
	PluginID   string
	ConfigPath string
	Logger     *slog.Logger

	// Workers bounds concurrently running handlers.
	Workers int
	// PollSlice bounds each wait for the next command.
	PollSlice time.Duration
	// ShutdownGrace bounds the wait for in-flight handlers after stop.
	ShutdownGrace time.Duration
	// ResultBuffer and StatusBuffer size the outgoing channels.
	ResultBuffer int
	StatusBuffer int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollSlice <= 0 {
		c.PollSlice = DefaultPollSlice
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = DefaultBuffer
	}
	if c.StatusBuffer <= 0 {
		c.StatusBuffer = DefaultBuffer
	}
}

// Runtime services the commands of one plugin instance.
type Runtime struct {
	def *plugin.Definition
	cfg Config
	log *slog.Logger

	commands *queue.Queue
	pool     *ants.Pool
	results  chan protocol.Result
	status   chan protocol.StatusUpdate

	// done is closed when Run returns.
	done    chan struct{}
	runOnce sync.Once

	inflight sync.WaitGroup
	timers   sync.WaitGroup

	mu       sync.Mutex
	instance any
	entries  plugin.EntryMap
}

// New prepares a runtime for def. Nothing is constructed until Run.
func New(def *plugin.Definition, cfg Config) (*Runtime, error) {
	if def == nil {
		return nil, oops.In("runtime").Errorf("plugin definition is nil")
	}
	cfg.applyDefaults()
	log := cfg.Logger.With("plugin", cfg.PluginID)

	// A saturated pool fails the trigger instead of stalling the consumer.
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			log.Error("worker panic escaped handler recovery", "panic", p)
		}))
	if err != nil {
		return nil, oops.In("runtime").Wrapf(err, "create worker pool")
	}
	return &Runtime{
		def:      def,
		cfg:      cfg,
		log:      log,
		commands: queue.New(int64(cfg.ResultBuffer)),
		pool:     pool,
		results:  make(chan protocol.Result, cfg.ResultBuffer),
		status:   make(chan protocol.StatusUpdate, cfg.StatusBuffer),
		done:     make(chan struct{}),
	}, nil
}

// Enqueue appends a command to the command queue. Commands are processed in
// enqueue order by a single consumer.
func (r *Runtime) Enqueue(cmd protocol.Command) error {
	if err := r.commands.Put(cmd); err != nil {
		return ErrStopped
	}
	return nil
}

// Results delivers exactly one Result per trigger command.
func (r *Runtime) Results() <-chan protocol.Result { return r.results }

// Status delivers status updates published by the plugin.
func (r *Runtime) Status() <-chan protocol.StatusUpdate { return r.status }

// Done is closed once Run has returned.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Run constructs the plugin and services commands until a stop command
// arrives or ctx is cancelled. A construction failure is returned; handler
// failures never end the loop.
func (r *Runtime) Run(ctx context.Context) error {
	err := oops.In("runtime").Errorf("runtime already ran")
	r.runOnce.Do(func() {
		defer close(r.done)
		err = r.run(ctx)
	})
	return err
}

func (r *Runtime) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if err := r.pool.ReleaseTimeout(time.Second); err != nil {
			r.log.Warn("worker pool did not drain", "error", err)
		}
	}()
	defer r.commands.Dispose()

	pc := plugin.NewContext(r.cfg.PluginID, r.cfg.ConfigPath, r.cfg.Logger, r.publish)
	inst, err := r.def.New(pc)
	if err != nil {
		r.log.Error("plugin process crashed during construction", "error", err)
		return oops.In("runtime").With("plugin", r.cfg.PluginID).Wrap(err)
	}
	entries := plugin.Resolve(r.def, inst)
	r.mu.Lock()
	r.instance, r.entries = inst, entries
	r.mu.Unlock()

	if h, ok := r.entries.Get(plugin.EventLifecycle, plugin.LifecycleStartup); ok {
		if _, err := r.call(runCtx, h, nil); err != nil {
			r.log.Error("startup hook failed", "error", err)
		}
	}

	for _, h := range r.entries.Category(plugin.EventTimer) {
		if !h.Meta.IsTimer() {
			if h.Meta.AutoStart {
				r.log.Warn("timer skipped: no valid interval", "entry", h.Meta.ID, "interval", h.Meta.Extra[plugin.ExtraInterval])
			}
			continue
		}
		interval, _ := h.Meta.Interval()
		r.timers.Add(1)
		go r.runTimer(runCtx, h, interval)
	}

	r.log.Debug("runtime serving commands")
	for {
		if runCtx.Err() != nil {
			r.stop(runCtx, cancel)
			return nil
		}
		items, err := r.commands.Poll(1, r.cfg.PollSlice)
		if errors.Is(err, queue.ErrTimeout) {
			continue
		}
		if err != nil {
			r.stop(runCtx, cancel)
			return nil
		}
		cmd, ok := items[0].(protocol.Command)
		if !ok {
			continue
		}
		switch cmd.Type {
		case protocol.CommandStop:
			r.stop(runCtx, cancel)
			return nil
		case protocol.CommandTrigger:
			r.dispatch(runCtx, cmd)
		default:
			r.log.Warn("ignoring unknown command", "type", cmd.Type)
		}
	}
}

// stop runs the shutdown hook, waits for in-flight handlers and timers, and
// cancels the run context.
func (r *Runtime) stop(ctx context.Context, cancel context.CancelFunc) {
	if h, ok := r.entries.Get(plugin.EventLifecycle, plugin.LifecycleShutdown); ok {
		if _, err := r.call(ctx, h, nil); err != nil {
			r.log.Error("shutdown hook failed", "error", err)
		}
	}
	if !waitTimeout(&r.inflight, r.cfg.ShutdownGrace) {
		r.log.Warn("in-flight handlers still running after grace period", "grace", r.cfg.ShutdownGrace)
	}
	cancel()
	waitTimeout(&r.timers, r.cfg.ShutdownGrace)
	r.log.Debug("runtime stopped")
}

func (r *Runtime) dispatch(ctx context.Context, cmd protocol.Command) {
	h, ok := plugin.Lookup(r.entries, r.instance, cmd.EntryID)
	if !ok {
		r.log.Warn("trigger for unknown entry", "entry", cmd.EntryID, "req_id", cmd.ReqID)
		r.deliver(protocol.Result{
			ReqID:     cmd.ReqID,
			Error:     fmt.Sprintf("no handler for entry %q", cmd.EntryID),
			ErrorCode: protocol.CodeHandlerNotFound,
		})
		return
	}

	r.inflight.Add(1)
	err := r.pool.Submit(func() {
		defer r.inflight.Done()
		r.deliver(r.invoke(ctx, cmd, h))
	})
	if err != nil {
		r.inflight.Done()
		r.deliver(protocol.Result{
			ReqID:     cmd.ReqID,
			Error:     fmt.Sprintf("schedule handler: %v", err),
			ErrorCode: protocol.CodeHandlerException,
		})
	}
}

func (r *Runtime) invoke(ctx context.Context, cmd protocol.Command, h *plugin.EntryHandler) protocol.Result {
	data, err := r.call(ctx, h, plugin.Args(cmd.Args))
	if err != nil {
		code := protocol.CodeHandlerException
		if errors.Is(err, plugin.ErrInvalidArgs) {
			code = protocol.CodeInvalidArgs
		}
		r.log.Warn("handler failed", "entry", cmd.EntryID, "req_id", cmd.ReqID, "error", err)
		return protocol.Result{ReqID: cmd.ReqID, Error: err.Error(), ErrorCode: code}
	}
	return protocol.Result{ReqID: cmd.ReqID, Success: true, Data: data}
}

// call invokes h, turning a panic into an error.
func (r *Runtime) call(ctx context.Context, h *plugin.EntryHandler, args plugin.Args) (data any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s/%s: %v", h.Meta.EventType, h.Meta.ID, p)
		}
	}()
	if args == nil {
		args = plugin.Args{}
	}
	return h.Invoke(ctx, args)
}

func (r *Runtime) deliver(res protocol.Result) {
	select {
	case r.results <- res:
	case <-r.done:
		r.log.Warn("dropping result after runtime stopped", "req_id", res.ReqID)
	}
}

func (r *Runtime) runTimer(ctx context.Context, h *plugin.EntryHandler, interval time.Duration) {
	defer r.timers.Done()
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if _, err := r.call(ctx, h, nil); err != nil {
			r.log.Warn("timer entry failed", "entry", h.Meta.ID, "error", err)
		}
		t.Reset(interval)
	}
}

// publish is the plugin's status handle. It never blocks; updates are
// dropped when the status channel is full.
func (r *Runtime) publish(data any) {
	u := protocol.StatusUpdate{
		PluginID: r.cfg.PluginID,
		Data:     data,
		Time:     time.Now(),
		Source:   protocol.SourceProcess,
	}
	select {
	case r.status <- u:
	default:
		r.log.Warn("status channel full, dropping update")
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
