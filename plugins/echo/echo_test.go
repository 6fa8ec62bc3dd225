// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/internal/runtime"
	"github.com/holomush/plughost/internal/supervisor"
	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

func newHost(t *testing.T) *host.Host {
	t.Helper()
	h := host.New(
		host.WithFactory(&supervisor.InProcessFactory{
			Definitions: []*plugin.Definition{echoDefinition(), crasherDefinition()},
			Runtime:     runtime.Config{PollSlice: 10 * time.Millisecond, ShutdownGrace: 200 * time.Millisecond},
		}),
		host.WithVersion("1.0.0"),
		host.WithTriggerTimeout(time.Second),
	)
	t.Cleanup(func() { h.ShutdownAll(time.Second) })
	return h
}

func TestEcho_Say(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "echo.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("prefix: \"> \"\n"), 0o600))

	h := newHost(t)
	require.NoError(t, h.Load(context.Background(), plugin.Descriptor{ID: "echo", Entry: "./bin/echo:Echo", ConfigPath: cfgPath}))

	got, err := h.Trigger(context.Background(), "echo", "say", map[string]any{"message": "hi"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "> hi"}, got)

	got, err = h.Trigger(context.Background(), "echo", "say", map[string]any{"message": "hi", "upper": true}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "> HI"}, got)
}

func TestEcho_InvalidArgs(t *testing.T) {
	h := newHost(t)
	require.NoError(t, h.Load(context.Background(), plugin.Descriptor{ID: "echo", Entry: "Echo"}))

	_, err := h.Trigger(context.Background(), "echo", "say", map[string]any{}, 0)
	errutil.AssertErrorCode(t, err, errutil.CodeInvalidArgs)

	_, err = h.Trigger(context.Background(), "echo", "wait", map[string]any{"seconds": -1}, 0)
	errutil.AssertErrorCode(t, err, errutil.CodeInvalidArgs)
}

func TestEcho_WaitTimesOut(t *testing.T) {
	h := newHost(t)
	require.NoError(t, h.Load(context.Background(), plugin.Descriptor{ID: "echo", Entry: "Echo"}))

	got, err := h.Trigger(context.Background(), "echo", "wait", map[string]any{"seconds": 0.01}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"waited": 0.01}, got)

	_, err = h.Trigger(context.Background(), "echo", "wait", map[string]any{"seconds": 5}, 20*time.Millisecond)
	errutil.AssertErrorCode(t, err, errutil.CodeTimeout)
}

func TestEcho_PublishesReadyStatus(t *testing.T) {
	h := newHost(t)
	require.NoError(t, h.Load(context.Background(), plugin.Descriptor{ID: "echo", Entry: "Echo"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		m, ok := h.GetPluginStatus("echo").Status.(map[string]any)
		return ok && m["state"] == "ready"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDefinitions_Describe(t *testing.T) {
	h := newHost(t)
	info, err := h.Inspect(context.Background(), plugin.Descriptor{ID: "crasher", Entry: "./bin/echo:Crasher"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.Version)
	ids := make([]string, len(info.Entries))
	for i, e := range info.Entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"crash", "ping"}, ids)

	info, err = h.Inspect(context.Background(), plugin.Descriptor{ID: "echo", Entry: "Echo"})
	require.NoError(t, err)
	require.Len(t, info.Entries, 2)
	assert.Equal(t, "say", info.Entries[0].ID)
	assert.Equal(t, plugin.KindService, info.Entries[1].Kind)
}
