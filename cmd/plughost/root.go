// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plughost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plughost",
		Short: "plughost - a process-isolated plugin host",
		Long: `plughost runs plugins in their own OS processes, lists their entries
without starting them, triggers entries with timeouts and tracks each
plugin's reported status.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/plughost/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewListCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewRuntimeCmd())

	return cmd
}

// loadConfig loads the configuration for cmd, honoring --config and the
// config flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
