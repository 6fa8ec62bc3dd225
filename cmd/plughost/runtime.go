// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/luaplugin"
	"github.com/holomush/plughost/pkg/pluginsdk"
)

// NewRuntimeCmd creates the hidden runtime subcommand the host re-executes
// itself with to run a Lua plugin in its own process.
func NewRuntimeCmd() *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:    "runtime",
		Short:  "Run a Lua plugin process (started by the host)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if script == "" {
				return oops.Code("INVALID_ARGUMENT").Errorf("--script is required")
			}
			def, err := luaplugin.Load(script)
			if err != nil {
				return err
			}
			return pluginsdk.Run(cmd.Context(), os.Getenv, cmd.OutOrStdout(), cmd.ErrOrStderr(), def)
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "Lua script implementing the plugin")
	return cmd
}
