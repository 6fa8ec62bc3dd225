// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk provides the main function of plugin processes.
//
// A plugin binary registers its definitions and hands them to Serve:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/holomush/plughost/pkg/plugin"
//		"github.com/holomush/plughost/pkg/pluginsdk"
//	)
//
//	type Echo struct{}
//
//	type sayArgs struct {
//		Message string `json:"message"`
//	}
//
//	var echoPlugin = plugin.Define("echo", func(*plugin.Context) (*Echo, error) {
//		return &Echo{}, nil
//	}).
//		Entry(plugin.WithSchema[sayArgs](plugin.EntryMeta{ID: "say"}),
//			plugin.Typed(func(_ *Echo, _ context.Context, a sayArgs) (any, error) {
//				return map[string]any{"echo": a.Message}, nil
//			})).
//		Build()
//
//	func main() {
//		pluginsdk.Serve(echoPlugin)
//	}
//
// The host starts the binary through HashiCorp go-plugin. Started with
// PLUGHOST_DESCRIBE=1 it prints its static entry listing instead.
package pluginsdk

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/runtime"
	"github.com/holomush/plughost/pkg/plugin"
)

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = protocol.HandshakeConfig

// streamFlushTimeout bounds the wait for result streams after the loop ends.
const streamFlushTimeout = time.Second

// Serve runs the plugin process and exits it. This should be called from
// main(). It returns only after the runtime loop has stopped.
func Serve(defs ...*plugin.Definition) {
	if err := Run(context.Background(), os.Getenv, os.Stdout, os.Stderr, defs...); err != nil {
		fmt.Fprintf(os.Stderr, "pluginsdk: %v\n", err)
		os.Exit(1)
	}
}

// Run is Serve with its environment injected.
func Run(ctx context.Context, getenv func(string) string, stdout, stderr io.Writer, defs ...*plugin.Definition) error {
	if len(defs) == 0 {
		return oops.In("pluginsdk").Errorf("no plugin definitions")
	}
	if getenv(protocol.EnvDescribe) != "" {
		return protocol.WriteDescription(stdout, protocol.Describe(defs...))
	}

	def, err := Select(getenv(protocol.EnvDefinition), defs)
	if err != nil {
		return err
	}
	level := getenv(protocol.EnvLogLevel)
	logger := logging.Setup(def.Name(), def.Version(), logging.FormatPlugin, level, stderr)

	rt, err := runtime.New(def, runtime.Config{
		PluginID:   getenv(protocol.EnvPluginID),
		ConfigPath: getenv(protocol.EnvConfigPath),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	srv := runtime.NewServer(rt)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		hashiplug.Serve(&hashiplug.ServeConfig{
			HandshakeConfig: HandshakeConfig,
			Plugins: map[string]hashiplug.Plugin{
				protocol.PluginName: &protocol.GRPCPlugin{Impl: srv},
			},
			GRPCServer: hashiplug.DefaultGRPCServer,
			Logger:     logging.HCLogger(def.Name(), logging.FormatJSON, level, stderr),
		})
		// The host closed the connection without a stop command.
		cancel()
	}()

	err = rt.Run(ctx)
	if !srv.Wait(streamFlushTimeout) {
		logger.Warn("result streams did not drain before exit")
	}
	return err
}

// Select picks the definition named name. An empty name selects the first
// definition.
func Select(name string, defs []*plugin.Definition) (*plugin.Definition, error) {
	if name == "" && len(defs) > 0 {
		return defs[0], nil
	}
	for _, def := range defs {
		if def.Name() == name {
			return def, nil
		}
	}
	return nil, oops.In("pluginsdk").With("definition", name).Errorf("no plugin definition named %q", name)
}
