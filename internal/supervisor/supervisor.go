// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package supervisor owns the lifecycle of one plugin process: spawning,
// command dispatch with result correlation and timeouts, and graceful
// then forced shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval      = 5 * time.Millisecond
	DefaultEscalationTimeout = 2 * time.Second
	DefaultStartRetries      = 2
	DefaultStartBackoff      = 100 * time.Millisecond
)

// Config tunes a Supervisor.
type Config struct {
	// PollInterval is the sleep between non-blocking result checks.
	PollInterval time.Duration
	// EscalationTimeout bounds the wait after a forced kill.
	EscalationTimeout time.Duration
	// StartRetries is the number of spawn retries after the first attempt.
	StartRetries uint64
	// StartBackoff is the base of the exponential spawn backoff.
	StartBackoff time.Duration
	Logger       *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.EscalationTimeout <= 0 {
		c.EscalationTimeout = DefaultEscalationTimeout
	}
	if c.StartBackoff <= 0 {
		c.StartBackoff = DefaultStartBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Supervisor owns exactly one plugin process.
type Supervisor struct {
	desc    plugin.Descriptor
	factory Factory
	cfg     Config
	log     *slog.Logger

	mu     sync.Mutex
	proc   Process
	closed bool

	shutdownOnce sync.Once

	// route serializes the decision of what happens to a received result
	// with the bookkeeping done when a caller gives up on its id.
	route     sync.Mutex
	pending   cmap.ConcurrentMap[string, struct{}]
	abandoned cmap.ConcurrentMap[string, struct{}]
	cache     cmap.ConcurrentMap[string, protocol.Result]
}

// New creates a supervisor for desc. Nothing is spawned until Start.
func New(desc plugin.Descriptor, factory Factory, cfg Config) *Supervisor {
	if factory == nil {
		panic("supervisor: factory cannot be nil")
	}
	cfg.applyDefaults()
	return &Supervisor{
		desc:      desc,
		factory:   factory,
		cfg:       cfg,
		log:       cfg.Logger.With("plugin", desc.ID),
		pending:   cmap.New[struct{}](),
		abandoned: cmap.New[struct{}](),
		cache:     cmap.New[protocol.Result](),
	}
}

// Descriptor returns the descriptor the supervisor was created with.
func (s *Supervisor) Descriptor() plugin.Descriptor { return s.desc }

// Start spawns the plugin process. Spawning is retried with exponential
// backoff; the final failure carries SPAWN_FAILURE and affects this plugin
// only.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return oops.Code(errutil.CodeHostClosed).In("supervisor").With("plugin", s.desc.ID).Errorf("supervisor is shut down")
	}
	if s.proc != nil {
		return oops.Code(errutil.CodeAlreadyLoaded).In("supervisor").With("plugin", s.desc.ID).Errorf("plugin process already started")
	}

	attempt := 0
	backoff := retry.WithMaxRetries(s.cfg.StartRetries, retry.NewExponential(s.cfg.StartBackoff))
	proc, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Process, error) {
		attempt++
		p, err := s.factory.Spawn(ctx, s.desc)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrBadLocator) {
			return nil, err
		}
		s.log.Warn("plugin spawn attempt failed", "attempt", attempt, "error", err)
		return nil, retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code(errutil.CodeSpawnFailure).In("supervisor").
			With("plugin", s.desc.ID).
			With("entry", s.desc.Entry).
			With("attempts", attempt).
			Wrapf(err, "spawn plugin %s", s.desc.ID)
	}
	s.proc = proc
	s.log.Info("plugin process started", "pid", proc.Pid())
	return nil
}

func (s *Supervisor) process() (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.closed || s.proc.Exited() {
		return nil, oops.Code(errutil.CodeProcessExited).In("supervisor").With("plugin", s.desc.ID).Errorf("plugin %s is not running", s.desc.ID)
	}
	return s.proc, nil
}

// Running reports whether the process is started and alive.
func (s *Supervisor) Running() bool {
	_, err := s.process()
	return err == nil
}

// Pid returns the plugin's OS process id, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Status returns the plugin's status channel, or nil before Start.
func (s *Supervisor) Status() <-chan protocol.StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil
	}
	return s.proc.Status()
}

// Process returns the underlying process handle, or nil before Start.
func (s *Supervisor) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Trigger invokes entryID with args and waits up to timeout for the
// matching result. It fails with REMOTE_EXECUTION when the plugin reports
// a failure, TIMEOUT when no result arrives in time, and PROCESS_EXITED
// when the plugin is not running. A timed-out handler keeps running in the
// plugin; its late result is discarded.
func (s *Supervisor) Trigger(ctx context.Context, entryID string, args map[string]any, timeout time.Duration) (any, error) {
	proc, err := s.process()
	if err != nil {
		return nil, err
	}

	reqID := protocol.NewRequestID()
	errb := oops.In("supervisor").With("plugin", s.desc.ID).With("entry", entryID).With("req_id", reqID)
	deadline := time.Now().Add(timeout)

	s.pending.Set(reqID, struct{}{})
	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	err = proc.Send(sendCtx, protocol.Trigger(reqID, entryID, args))
	cancel()
	if err != nil {
		s.pending.Remove(reqID)
		if proc.Exited() {
			return nil, errb.Code(errutil.CodeProcessExited).Wrapf(err, "plugin %s exited", s.desc.ID)
		}
		return nil, errb.Wrapf(err, "send trigger")
	}

	for {
		if res, ok := s.poll(proc, reqID); ok {
			return s.complete(errb, res)
		}
		if err := ctx.Err(); err != nil {
			s.abandon(reqID)
			return nil, errb.Wrap(err)
		}
		if proc.Exited() {
			if res, ok := s.poll(proc, reqID); ok {
				return s.complete(errb, res)
			}
			s.abandon(reqID)
			return nil, errb.Code(errutil.CodeProcessExited).Errorf("plugin %s exited before answering", s.desc.ID)
		}
		if !time.Now().Before(deadline) {
			s.abandon(reqID)
			return nil, errb.Code(errutil.CodeTimeout).With("timeout", timeout).
				Errorf("no result from %s/%s within %s", s.desc.ID, entryID, timeout)
		}
		time.Sleep(s.cfg.PollInterval)
	}
}

// poll drains every result currently queued without blocking, caching the
// ones that belong to other pending callers, then claims reqID's result if
// it is cached.
func (s *Supervisor) poll(proc Process, reqID string) (protocol.Result, bool) {
	for {
		select {
		case res := <-proc.Results():
			if res.ReqID == reqID {
				s.pending.Remove(reqID)
				return res, true
			}
			s.stash(res)
			continue
		default:
		}
		break
	}
	if res, ok := s.cache.Pop(reqID); ok {
		s.pending.Remove(reqID)
		return res, true
	}
	return protocol.Result{}, false
}

func (s *Supervisor) stash(res protocol.Result) {
	s.route.Lock()
	defer s.route.Unlock()
	switch {
	case s.pending.Has(res.ReqID):
		s.cache.Set(res.ReqID, res)
	case s.abandoned.Has(res.ReqID):
		s.abandoned.Remove(res.ReqID)
		s.log.Debug("discarding late result", "req_id", res.ReqID)
	default:
		s.log.Warn("discarding result for unknown request", "req_id", res.ReqID)
	}
}

func (s *Supervisor) abandon(reqID string) {
	s.route.Lock()
	defer s.route.Unlock()
	s.pending.Remove(reqID)
	if _, cached := s.cache.Pop(reqID); !cached {
		s.abandoned.Set(reqID, struct{}{})
	}
}

func (s *Supervisor) complete(errb oops.OopsErrorBuilder, res protocol.Result) (any, error) {
	if res.Success {
		return res.Data, nil
	}
	return nil, errb.Code(errutil.CodeRemoteExecution).
		With(RemoteCodeKey, res.ErrorCode).
		Errorf("%s", res.Error)
}

// Shutdown stops the plugin: it sends stop, waits up to timeout for the
// process to exit, then kills it and waits up to the escalation timeout.
// It is idempotent and never fails; problems are logged.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("panic during plugin shutdown", "panic", fmt.Sprint(p))
			}
		}()

		s.mu.Lock()
		proc := s.proc
		s.closed = true
		s.mu.Unlock()
		if proc == nil {
			return
		}
		defer proc.Close()

		// Delivering stop and waiting for the exit share one deadline.
		deadline := time.Now().Add(timeout)
		if !proc.Exited() {
			ctx, cancel := context.WithDeadline(context.Background(), deadline)
			if err := proc.Send(ctx, protocol.Stop()); err != nil {
				s.log.Debug("stop command not delivered", "error", err)
			}
			cancel()
		}
		if s.waitExit(proc, deadline) {
			s.log.Info("plugin process stopped")
			return
		}

		errutil.Log(s.log, slog.LevelWarn, "plugin ignored stop, killing",
			oops.Code(errutil.CodeShutdownFailure).In("supervisor").With("plugin", s.desc.ID).With("pid", proc.Pid()).
				Errorf("plugin %s still running %s after stop", s.desc.ID, timeout))
		proc.Kill()
		if !s.waitExit(proc, time.Now().Add(s.cfg.EscalationTimeout)) {
			errutil.LogError(s.log, "plugin survived forced termination",
				oops.Code(errutil.CodeShutdownFailure).In("supervisor").With("plugin", s.desc.ID).With("pid", proc.Pid()).
					Errorf("plugin %s still running after kill", s.desc.ID))
		}
	})
}

func (s *Supervisor) waitExit(proc Process, deadline time.Time) bool {
	for {
		if proc.Exited() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(s.cfg.PollInterval)
	}
}
