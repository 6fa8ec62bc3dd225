// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/status"
	"github.com/holomush/plughost/internal/store"
)

// statusConfig holds configuration for the status subcommands.
type statusConfig struct {
	limit      int
	jsonOutput bool
	olderThan  time.Duration
}

// journalOpener is replaced in tests.
var journalOpener = openJournal

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect the status journal",
		Long:  `Show or prune the status history recorded by serve when the journal is enabled.`,
	}

	history := &cobra.Command{
		Use:   "history PLUGIN_ID",
		Short: "Show a plugin's recorded status updates, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, func(ctx context.Context, j Journal) error {
				records, err := j.History(ctx, args[0], cfg.limit)
				if err != nil {
					return err
				}
				if cfg.jsonOutput {
					return formatHistoryJSON(cmd.OutOrStdout(), records)
				}
				return formatHistoryTable(cmd.OutOrStdout(), records)
			})
		},
	}
	history.Flags().IntVar(&cfg.limit, "limit", store.DefaultHistoryLimit, "maximum number of records")
	history.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output history as JSON")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete recorded status updates older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.olderThan <= 0 {
				return oops.Code("INVALID_ARGUMENT").Errorf("--older-than must be positive")
			}
			return withJournal(cmd, func(ctx context.Context, j Journal) error {
				n, err := j.Prune(ctx, time.Now().Add(-cfg.olderThan))
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d records\n", n)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&cfg.olderThan, "older-than", 7*24*time.Hour, "age of the records to delete")

	cmd.AddCommand(history, prune)
	return cmd
}

func withJournal(cmd *cobra.Command, fn func(ctx context.Context, j Journal) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	url, err := getDatabaseURL(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	j, err := journalOpener(ctx, url)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(ctx, j)
}

// formatHistoryTable writes records as an aligned table.
func formatHistoryTable(w io.Writer, records []status.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No status recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "UPDATED\tSOURCE\tSTATUS")
	for _, rec := range records {
		data, err := json.Marshal(rec.Status)
		if err != nil {
			data = []byte(fmt.Sprint(rec.Status))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.UpdatedAt.Format(time.RFC3339), rec.Source, data)
	}
	if err := tw.Flush(); err != nil {
		return oops.In("cli").Wrapf(err, "write history")
	}
	return nil
}

// formatHistoryJSON writes records as an indented JSON array.
func formatHistoryJSON(w io.Writer, records []status.Record) error {
	if records == nil {
		records = []status.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return oops.In("cli").Wrapf(err, "encode history")
	}
	return nil
}
