// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/config"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
				return oops.In("cli").With("path", outPath).Wrapf(err, "create schema directory")
			}
			if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
				return oops.In("cli").With("path", outPath).Wrapf(err, "write schema")
			}
			cmd.Printf("Generated %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the schema to a file instead of stdout")
	return cmd
}
