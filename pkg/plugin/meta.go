// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin defines the capability metadata model and the entry
// registration API used by plugin authors.
//
// A plugin is a value constructed inside its own OS process. Its externally
// invocable operations ("entries") are registered explicitly through a
// Builder, so the host can list them without running plugin code.
package plugin

import (
	"fmt"
	"strconv"
	"time"
)

// EventType partitions entries by what invokes them.
type EventType string

// Entry categories.
const (
	// EventPluginEntry marks an entry callable by the host through a trigger.
	EventPluginEntry EventType = "plugin_entry"
	// EventLifecycle marks a hook bound to a process-level event.
	EventLifecycle EventType = "lifecycle"
	// EventTimer marks an entry run on a recurring schedule inside the child.
	EventTimer EventType = "timer"
	// EventMessage marks an entry that consumes out-of-band messages.
	EventMessage EventType = "message"
)

// Lifecycle hook ids.
const (
	LifecycleStartup  = "startup"
	LifecycleShutdown = "shutdown"
)

// Kind describes how an entry behaves once invoked.
type Kind string

// Entry kinds.
const (
	// KindAction runs to completion and returns a value.
	KindAction Kind = "action"
	// KindService starts something long-running.
	KindService Kind = "service"
)

// ExtraInterval is the Extra key holding a timer's interval policy.
const ExtraInterval = "interval"

// EntryMeta describes an entry without requiring the plugin to run.
type EntryMeta struct {
	EventType   EventType      `json:"event_type" yaml:"event_type" koanf:"event_type"`
	ID          string         `json:"id" yaml:"id" koanf:"id" jsonschema:"required"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty" koanf:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" koanf:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty" koanf:"input_schema"`
	Kind        Kind           `json:"kind,omitempty" yaml:"kind,omitempty" koanf:"kind"`
	AutoStart   bool           `json:"auto_start,omitempty" yaml:"auto_start,omitempty" koanf:"auto_start"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty" koanf:"extra"`
}

// withDefaults fills the category, kind and display name when unset.
func (m EntryMeta) withDefaults() EntryMeta {
	if m.EventType == "" {
		m.EventType = EventPluginEntry
	}
	if m.Kind == "" {
		m.Kind = KindAction
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	return m
}

// Interval returns the timer interval stored under Extra["interval"].
// Numbers are seconds; strings are parsed as Go durations, or as seconds
// when they hold a bare number.
func (m EntryMeta) Interval() (time.Duration, bool) {
	raw, ok := m.Extra[ExtraInterval]
	if !ok {
		return 0, false
	}
	d, err := parseInterval(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func parseInterval(v any) (time.Duration, error) {
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", val, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("unsupported interval type %T", v)
	}
}

// IsTimer reports whether the entry should be started automatically on a
// schedule when the plugin process starts.
func (m EntryMeta) IsTimer() bool {
	if m.EventType != EventTimer || !m.AutoStart {
		return false
	}
	_, ok := m.Interval()
	return ok
}
