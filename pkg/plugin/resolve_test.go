// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/pkg/plugin"
)

func newGreeter(t *testing.T) (*plugin.Definition, any) {
	t.Helper()
	def := greeterDefinition()
	inst, err := def.New(plugin.NewContext("greeter", "", nil, nil))
	require.NoError(t, err)
	return def, inst
}

func TestResolve_PartitionsByCategory(t *testing.T) {
	def, inst := newGreeter(t)
	m := plugin.Resolve(def, inst)

	_, ok := m.Get(plugin.EventPluginEntry, "say")
	assert.True(t, ok)
	_, ok = m.Get(plugin.EventLifecycle, plugin.LifecycleStartup)
	assert.True(t, ok)
	_, ok = m.Get(plugin.EventTimer, "tick")
	assert.True(t, ok)

	ids := make([]string, 0)
	for _, h := range m.Category(plugin.EventPluginEntry) {
		ids = append(ids, h.Meta.ID)
	}
	assert.Equal(t, []string{"entry_hidden", "fail", "ping", "say"}, ids, "methods register under snake_case names")
}

func TestResolve_StartupHookBindsInstance(t *testing.T) {
	def, inst := newGreeter(t)
	m := plugin.Resolve(def, inst)

	h, ok := m.Get(plugin.EventLifecycle, plugin.LifecycleStartup)
	require.True(t, ok)
	_, err := h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, inst.(*greeter).started)
}

func TestResolve_LastRegistrationWins(t *testing.T) {
	def := plugin.Define("dup", func(*plugin.Context) (*greeter, error) { return &greeter{}, nil }).
		Action("ping", "first", func(*greeter, context.Context, plugin.Args) (any, error) { return 1, nil }).
		Action("ping", "second", func(*greeter, context.Context, plugin.Args) (any, error) { return 2, nil }).
		Build()
	inst, err := def.New(plugin.NewContext("dup", "", nil, nil))
	require.NoError(t, err)

	h, ok := plugin.Lookup(plugin.Resolve(def, inst), inst, "ping")
	require.True(t, ok)
	assert.Equal(t, "second", h.Meta.Description)
	got, err := h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestLookup_FallbackOrder(t *testing.T) {
	def, inst := newGreeter(t)

	// Resolution without method discovery exercises the attribute fallbacks.
	m := make(plugin.EntryMap)

	h, ok := plugin.Lookup(m, inst, "ping")
	require.True(t, ok, "attribute named after the id")
	got, err := h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	h, ok = plugin.Lookup(m, inst, "hidden")
	require.True(t, ok, "Entry-prefixed attribute")
	got, err = h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hidden", got)

	_, ok = plugin.Lookup(m, inst, "helper")
	assert.False(t, ok, "wrong signature")

	_, ok = plugin.Lookup(plugin.Resolve(def, inst), inst, "missing")
	assert.False(t, ok)

	_, ok = plugin.Lookup(m, nil, "ping")
	assert.False(t, ok)
}

type scripted map[string]plugin.HandlerFunc

func (s scripted) LookupAttribute(name string) (plugin.HandlerFunc, bool) {
	fn, ok := s[name]
	return fn, ok
}

func TestLookup_AttributeLookup(t *testing.T) {
	inst := scripted{
		"entry_greet": func(context.Context, plugin.Args) (any, error) { return "hi", nil },
	}

	h, ok := plugin.Lookup(plugin.Resolve(nil, inst), inst, "greet")
	require.True(t, ok)
	got, err := h.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestStaticEntries(t *testing.T) {
	def := greeterDefinition()
	declared := []plugin.EntryMeta{
		{ID: "say", Description: "declared duplicate"},
		{ID: "manual", Description: "declared only", InputSchema: map[string]any{"type": "object"}},
		{ID: ""},
	}

	entries := plugin.StaticEntries(def, declared)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"fail", "manual", "say"}, ids, "lifecycle and timer entries are not listed")
	assert.Equal(t, "say something", entries[2].Description, "registration wins over declaration")
	assert.Equal(t, plugin.EventPluginEntry, entries[1].EventType)
	assert.Equal(t, "manual", entries[1].Name)
	assert.NotNil(t, entries[1].InputSchema)

	assert.Len(t, plugin.StaticEntries(nil, declared), 2)
}

func TestMergeDeclared(t *testing.T) {
	registered := []plugin.EntryMeta{
		{EventType: plugin.EventPluginEntry, ID: "say", Description: "first"},
		{EventType: plugin.EventPluginEntry, ID: "say", Description: "second"},
		{EventType: plugin.EventTimer, ID: "tick"},
	}
	declared := []plugin.EntryMeta{{ID: "say"}, {ID: "extra", EventType: plugin.EventMessage}}

	got := plugin.MergeDeclared(registered, declared)

	require.Len(t, got, 2)
	assert.Equal(t, "extra", got[0].ID)
	assert.Equal(t, plugin.EventPluginEntry, got[0].EventType)
	assert.Equal(t, "second", got[1].Description)
}
