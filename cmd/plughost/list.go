// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/host"
	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/supervisor"
)

// listing is one plugin in the list output. Error is set instead of the
// entries when the plugin could not be described.
type listing struct {
	host.PluginInfo `yaml:",inline"`
	Error           string `yaml:"error,omitempty"`
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured plugins and their entries",
		Long: `List every configured plugin with the entries it registers, as YAML.
Plugins are described without being started.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			factory := &supervisor.GoPluginFactory{
				Logger:   logging.HCLogger("plughost", cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr()),
				LogLevel: cfg.Log.Level,
			}
			return runList(cmd.Context(), cfg, cmd, factory)
		},
	}
}

func runList(ctx context.Context, cfg *config.Config, cmd *cobra.Command, factory supervisor.Factory) error {
	h := host.New(host.WithFactory(factory), host.WithVersion(version))
	out := make([]listing, 0, len(cfg.Plugins))
	for _, desc := range cfg.Plugins {
		info, err := h.Inspect(ctx, desc)
		if err != nil {
			out = append(out, listing{PluginInfo: host.PluginInfo{ID: desc.ID, Name: desc.DisplayName(), Entry: desc.Entry}, Error: err.Error()})
			continue
		}
		out = append(out, listing{PluginInfo: info})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return oops.In("cli").Wrapf(err, "encode listing")
	}
	if err := enc.Close(); err != nil {
		return oops.In("cli").Wrapf(err, "encode listing")
	}
	return nil
}
