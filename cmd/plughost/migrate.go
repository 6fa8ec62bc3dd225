// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/store"
)

// migrator wraps the methods used from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the status journal schema",
		Long: `Apply or roll back the PostgreSQL migrations of the status journal.
The database URL comes from status.database_url, --database-url or
DATABASE_URL.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				for _, v := range pending {
					name, _ := store.MigrationName(v)
					cmd.Printf("Applying %s\n", name)
				}
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping the status history",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Rolled back all migrations")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied migration version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				state := "clean"
				if dirty {
					state = "dirty"
				}
				cmd.Printf("Version %d (%s)\n", v, state)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Mark VERSION as applied without running it",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
				v, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", v)
				return nil
			}),
		},
	)
	return cmd
}

// withMigrator loads the config, opens a migrator and closes it after fn.
func withMigrator(fn func(cmd *cobra.Command, m migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		url, err := getDatabaseURL(cfg)
		if err != nil {
			return err
		}
		m, err := newMigrator(url)
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, m, args)
	}
}

// parseForceVersion parses the force argument. Parsing stops at the first
// non-digit.
func parseForceVersion(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrapf(err, "invalid version")
	}
	return v, nil
}
