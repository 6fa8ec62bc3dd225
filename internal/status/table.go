// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package status keeps the latest reported state of every plugin. Plugins
// publish fire-and-forget updates; the Aggregator folds them into a Table
// that callers read without touching plugin processes.
package status

import (
	"maps"
	"sync"
	"time"

	"github.com/holomush/plughost/internal/protocol"
)

// Record is the latest status of one plugin.
type Record struct {
	PluginID  string          `json:"plugin_id" yaml:"plugin_id"`
	Status    any             `json:"status" yaml:"status"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`
	Source    protocol.Source `json:"source" yaml:"source"`
}

// Empty reports whether no update was ever folded for the plugin.
func (r Record) Empty() bool {
	return r.UpdatedAt.IsZero()
}

// Table maps plugin ids to their latest Record. One mutex guards every
// read and write.
type Table struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]Record)}
}

// Fold replaces the plugin's record with u and returns the new record.
// Updates are applied in arrival order, so the last one wins.
func (t *Table) Fold(u protocol.StatusUpdate) Record {
	rec := Record{
		PluginID:  u.PluginID,
		Status:    u.Data,
		UpdatedAt: u.Time,
		Source:    u.Source,
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.records[u.PluginID] = rec
	t.mu.Unlock()
	return rec
}

// Get returns the record for id, or an empty record carrying only the id.
func (t *Table) Get(id string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[id]; ok {
		return rec
	}
	return Record{PluginID: id}
}

// All returns a snapshot copy of every record.
func (t *Table) All() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.records)
}
