// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store persists plugin status history in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/status"
)

// CodeSchemaMissing marks queries against a database that was never
// migrated.
const CodeSchemaMissing = "SCHEMA_MISSING"

// DefaultHistoryLimit caps History when no limit is given.
const DefaultHistoryLimit = 100

// poolIface is the part of *pgxpool.Pool the journal uses; pgxmock
// implements it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StatusJournal appends every folded status record to
// plugin_status_history. It implements status.Sink.
type StatusJournal struct {
	pool poolIface
}

var _ status.Sink = (*StatusJournal)(nil)

// NewStatusJournal creates a journal on pool.
func NewStatusJournal(pool poolIface) *StatusJournal {
	return &StatusJournal{pool: pool}
}

// Connect opens a connection pool for databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.In("store").Wrapf(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("store").Wrapf(err, "ping database")
	}
	return pool, nil
}

// Record appends rec.
func (j *StatusJournal) Record(ctx context.Context, rec status.Record) error {
	data, err := json.Marshal(rec.Status)
	if err != nil {
		return oops.In("store").With("plugin", rec.PluginID).Wrapf(err, "encode status")
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO plugin_status_history (id, plugin_id, status, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ulid.Make().String(), rec.PluginID, data, string(rec.Source), rec.UpdatedAt)
	if err != nil {
		return wrapQueryErr(err, "record status", rec.PluginID)
	}
	return nil
}

// History returns up to limit records of pluginID, newest first.
func (j *StatusJournal) History(ctx context.Context, pluginID string, limit int) ([]status.Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := j.pool.Query(ctx,
		`SELECT plugin_id, status, source, updated_at
		 FROM plugin_status_history
		 WHERE plugin_id = $1
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $2`,
		pluginID, limit)
	if err != nil {
		return nil, wrapQueryErr(err, "query status history", pluginID)
	}
	defer rows.Close()

	var out []status.Record
	for rows.Next() {
		var (
			rec    status.Record
			raw    []byte
			source string
		)
		if err := rows.Scan(&rec.PluginID, &raw, &source, &rec.UpdatedAt); err != nil {
			return nil, oops.In("store").With("plugin", pluginID).Wrapf(err, "scan status row")
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.Status); err != nil {
				return nil, oops.In("store").With("plugin", pluginID).Wrapf(err, "decode status")
			}
		}
		rec.Source = protocol.Source(source)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(err, "iterate status history", pluginID)
	}
	return out, nil
}

// Prune deletes records updated before cutoff and returns how many went.
func (j *StatusJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `DELETE FROM plugin_status_history WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, wrapQueryErr(err, "prune status history", "")
	}
	return tag.RowsAffected(), nil
}

func wrapQueryErr(err error, operation, pluginID string) error {
	errb := oops.In("store").With("operation", operation)
	if pluginID != "" {
		errb = errb.With("plugin", pluginID)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return errb.Code(CodeSchemaMissing).
			Hint("run `plughost migrate up` against the status database").
			Wrap(err)
	}
	return errb.Wrap(err)
}
