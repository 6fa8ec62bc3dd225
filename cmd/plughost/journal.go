// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/store"
)

// pgJournal is a store.StatusJournal that owns its pool.
type pgJournal struct {
	*store.StatusJournal
	pool *pgxpool.Pool
}

func (j *pgJournal) Close() { j.pool.Close() }

// openJournal connects to databaseURL and returns the journal on it.
func openJournal(ctx context.Context, databaseURL string) (Journal, error) {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	return &pgJournal{StatusJournal: store.NewStatusJournal(pool), pool: pool}, nil
}

// getDatabaseURL returns status.database_url from cfg, falling back to the
// DATABASE_URL environment variable.
func getDatabaseURL(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.Status.DatabaseURL != "" {
		return cfg.Status.DatabaseURL, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", oops.Code(config.CodeInvalid).Errorf("status.database_url, --database-url or DATABASE_URL is required")
}
