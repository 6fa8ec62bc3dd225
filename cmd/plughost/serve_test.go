// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/internal/observability"
	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/runtime"
	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/supervisor"
	"github.com/holomush/plughost/pkg/plugin"
)

type greeter struct {
	pc *plugin.Context
}

func greeterDefinition() *plugin.Definition {
	return plugin.Define("Greeter", func(pc *plugin.Context) (*greeter, error) {
		return &greeter{pc: pc}, nil
	}).
		Describe("says hello", "0.3.0").
		Action("greet", "greets by name", func(_ *greeter, _ context.Context, args plugin.Args) (any, error) {
			return "hello " + args.String("name"), nil
		}).
		OnStartup(func(g *greeter, _ context.Context) error {
			g.pc.PublishStatus(map[string]any{"state": "ready"})
			return nil
		}).
		Build()
}

func testFactory() *supervisor.InProcessFactory {
	return &supervisor.InProcessFactory{
		Definitions: []*plugin.Definition{greeterDefinition()},
		Runtime:     runtime.Config{PollSlice: 10 * time.Millisecond, ShutdownGrace: 500 * time.Millisecond},
	}
}

const serveConfig = `
log:
  format: text
  level: error
metrics:
  addr: 127.0.0.1:0
timeouts:
  shutdown: 1s
status:
  drain_interval: 5ms
  database_url: postgres://localhost/plughost
plugins:
  - id: hello
    entry: ./bin/greeters:Greeter
  - id: missing
    entry: ./bin/greeters:Nope
`

func loadTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	return cfg
}

// fakeObsServer records its lifecycle.
type fakeObsServer struct {
	started  chan struct{}
	stopped  bool
	startErr error
	regs     int
	ready    observability.ReadinessChecker
	snaps    map[string]observability.Snapshot
}

func (s *fakeObsServer) HandleJSON(pattern string, snap observability.Snapshot) {
	if s.snaps == nil {
		s.snaps = make(map[string]observability.Snapshot)
	}
	s.snaps[pattern] = snap
}

func (s *fakeObsServer) Start() (<-chan error, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	close(s.started)
	return make(chan error), nil
}

func (s *fakeObsServer) Stop(context.Context) error { s.stopped = true; return nil }
func (s *fakeObsServer) Addr() string               { return "127.0.0.1:0" }

func serveDeps(j *fakeJournal, obs *fakeObsServer, sig chan os.Signal) *ServeDeps {
	return &ServeDeps{
		PluginFactory: testFactory(),
		JournalFactory: func(context.Context, string) (Journal, error) {
			return j, nil
		},
		ObservabilityServerFactory: func(_ string, ready observability.ReadinessChecker, regs ...observability.Registration) ObservabilityServer {
			obs.regs = len(regs)
			obs.ready = ready
			return obs
		},
		Signals: func() (<-chan os.Signal, func()) { return sig, func() {} },
	}
}

func TestServe_LoadsPluginsAndShutsDownOnSignal(t *testing.T) {
	cfg := loadTestConfig(t, serveConfig)
	j := &fakeJournal{}
	obs := &fakeObsServer{started: make(chan struct{})}
	sig := make(chan os.Signal, 1)

	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(context.Background(), cfg, cmd, serveDeps(j, obs, sig)) }()

	select {
	case <-obs.started:
	case <-time.After(5 * time.Second):
		t.Fatal("observability server never started")
	}
	assert.Equal(t, 2, obs.regs)
	assert.True(t, obs.ready())
	require.Contains(t, obs.snaps, "/plugins")
	require.Contains(t, obs.snaps, "/status")
	plugins, ok := obs.snaps["/plugins"]().([]host.PluginInfo)
	require.True(t, ok)
	require.Len(t, plugins, 1)
	assert.Equal(t, "hello", plugins[0].ID)

	// The startup status of hello and the spawn failure of missing reach
	// the journal.
	require.Eventually(t, func() bool {
		var ready, failed bool
		for _, rec := range j.snapshot() {
			m, _ := rec.Status.(map[string]any)
			switch {
			case rec.PluginID == "hello" && m["state"] == "ready":
				ready = rec.Source == protocol.SourceProcess
			case rec.PluginID == "missing" && m["state"] == "spawn_failed":
				failed = rec.Source == protocol.SourceLocal
			}
		}
		return ready && failed
	}, 5*time.Second, 10*time.Millisecond)

	sig <- syscall.SIGTERM
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after SIGTERM")
	}

	assert.True(t, obs.stopped)
	assert.True(t, j.closed)
	assert.Contains(t, out.String(), "plughost started")

	var stopped bool
	for _, rec := range j.snapshot() {
		if m, ok := rec.Status.(map[string]any); ok && rec.PluginID == "hello" && m["state"] == "stopped" {
			stopped = true
		}
	}
	assert.True(t, stopped, "stop is journaled")
}

func TestServe_ContextCancel(t *testing.T) {
	cfg := loadTestConfig(t, "log:\n  level: error\nmetrics:\n  addr: \"\"\n")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServeWithDeps(ctx, cfg, &cobra.Command{}, &ServeDeps{
			PluginFactory: testFactory(),
			Signals:       func() (<-chan os.Signal, func()) { return make(chan os.Signal), func() {} },
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	cfg := loadTestConfig(t, "log:\n  level: error\nmetrics:\n  addr: 127.0.0.1:0\n")
	obs := &fakeObsServer{started: make(chan struct{}), startErr: errors.New("address in use")}

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, serveDeps(&fakeJournal{}, obs, make(chan os.Signal)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestServe_JournalFailure(t *testing.T) {
	cfg := loadTestConfig(t, "log:\n  level: error\nstatus:\n  database_url: postgres://nowhere/db\n")
	deps := &ServeDeps{
		PluginFactory: testFactory(),
		JournalFactory: func(context.Context, string) (Journal, error) {
			return nil, errors.New("connection refused")
		},
	}

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")
		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)
		monitorServerErrors(ctx, cancel, errCh, "test")
		assert.NoError(t, ctx.Err())
	})
}

var _ status.Sink = (*fakeJournal)(nil)
