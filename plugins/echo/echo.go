// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/holomush/plughost/pkg/plugin"
)

// echoConfig is read from the descriptor's config path.
type echoConfig struct {
	Prefix string `yaml:"prefix"`
}

// Echo echoes messages back to the caller.
type Echo struct {
	pc     *plugin.Context
	cfg    echoConfig
	echoes atomic.Int64
}

// sayArgs is the argument object of the say entry.
type sayArgs struct {
	Message string `json:"message" jsonschema:"required"`
	Upper   bool   `json:"upper,omitempty"`
}

// waitArgs is the argument object of the wait entry.
type waitArgs struct {
	Seconds float64 `json:"seconds" jsonschema:"required,minimum=0"`
}

func newEcho(pc *plugin.Context) (*Echo, error) {
	e := &Echo{pc: pc}
	if err := pc.LoadConfig(&e.cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func echoDefinition() *plugin.Definition {
	return plugin.Define("Echo", newEcho).
		Describe("Echoes messages back", "1.0.0").
		Entry(plugin.WithSchema[sayArgs](plugin.EntryMeta{
			ID:          "say",
			Description: "Echo a message",
		}), plugin.Typed((*Echo).say)).
		Entry(plugin.WithSchema[waitArgs](plugin.EntryMeta{
			ID:          "wait",
			Description: "Sleep, then report how long",
			Kind:        plugin.KindService,
		}), plugin.Typed((*Echo).wait)).
		OnStartup(func(e *Echo, _ context.Context) error {
			e.pc.Logger.Info("echo ready", "prefix", e.cfg.Prefix)
			e.pc.PublishStatus(map[string]any{"state": "ready", "echoes": 0})
			return nil
		}).
		OnShutdown(func(e *Echo, _ context.Context) error {
			e.pc.PublishStatus(map[string]any{"state": "stopping", "echoes": e.echoes.Load()})
			return nil
		}).
		Timer("heartbeat", time.Second, func(e *Echo, _ context.Context) error {
			e.pc.PublishStatus(map[string]any{"state": "ready", "echoes": e.echoes.Load()})
			return nil
		}).
		Build()
}

func (e *Echo) say(_ context.Context, a sayArgs) (any, error) {
	msg := a.Message
	if a.Upper {
		msg = strings.ToUpper(msg)
	}
	e.echoes.Add(1)
	return map[string]any{"echo": e.cfg.Prefix + msg}, nil
}

func (e *Echo) wait(ctx context.Context, a waitArgs) (any, error) {
	d := time.Duration(a.Seconds * float64(time.Second))
	select {
	case <-time.After(d):
		return map[string]any{"waited": a.Seconds}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Crasher exits its process on request.
type Crasher struct{}

func crasherDefinition() *plugin.Definition {
	return plugin.Define("Crasher", func(*plugin.Context) (*Crasher, error) {
		return &Crasher{}, nil
	}).
		Describe("Exits on request", "1.0.0").
		Action("crash", "Exit the plugin process", func(_ *Crasher, _ context.Context, args plugin.Args) (any, error) {
			code := 3
			if f, ok := args.Float("code"); ok {
				code = int(f)
			}
			os.Exit(code)
			return nil, nil
		}).
		Action("ping", "Reply pong", func(*Crasher, context.Context, plugin.Args) (any, error) {
			return "pong", nil
		}).
		Build()
}
