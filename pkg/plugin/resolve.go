// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// EntryMap indexes bound handlers by category and id.
type EntryMap map[EventType]map[string]*EntryHandler

// Add stores h, replacing any handler with the same category and id.
func (m EntryMap) Add(h *EntryHandler) {
	byID, ok := m[h.Meta.EventType]
	if !ok {
		byID = make(map[string]*EntryHandler)
		m[h.Meta.EventType] = byID
	}
	byID[h.Meta.ID] = h
}

// Get returns the handler registered under category and id.
func (m EntryMap) Get(category EventType, id string) (*EntryHandler, bool) {
	h, ok := m[category][id]
	return h, ok
}

// Category returns the handlers of one category sorted by id.
func (m EntryMap) Category(category EventType) []*EntryHandler {
	byID := m[category]
	out := make([]*EntryHandler, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.ID < out[j].Meta.ID })
	return out
}

// AttributeLookup is implemented by instances that resolve attribute names
// themselves instead of through Go method sets (scripted plugins).
type AttributeLookup interface {
	LookupAttribute(name string) (HandlerFunc, bool)
}

// Resolve binds every registration of def to instance. Exported methods of
// instance with the HandlerFunc signature are registered under their
// snake_case name first, so explicit registrations with the same id win.
func Resolve(def *Definition, instance any) EntryMap {
	m := make(EntryMap)
	for name, fn := range methodHandlers(instance) {
		m.Add(&EntryHandler{
			Meta:   EntryMeta{ID: name}.withDefaults(),
			Invoke: fn,
		})
	}
	if def != nil {
		for _, b := range def.bindings {
			m.Add(&EntryHandler{Meta: b.meta, Invoke: b.bind(instance)})
		}
	}
	return m
}

// lookupOrder is the category order searched by Lookup.
var lookupOrder = []EventType{EventPluginEntry, EventMessage, EventTimer, EventLifecycle}

// Lookup finds the handler for a trigger: the entry map first, then an
// attribute of the instance named id, then the prefixed attribute
// ("Entry<Id>" for Go methods, "entry_<id>" for scripted plugins).
func Lookup(m EntryMap, instance any, id string) (*EntryHandler, bool) {
	for _, category := range lookupOrder {
		if h, ok := m.Get(category, id); ok {
			return h, true
		}
	}
	if fn, ok := attribute(instance, id, false); ok {
		return &EntryHandler{Meta: EntryMeta{ID: id}.withDefaults(), Invoke: fn}, true
	}
	if fn, ok := attribute(instance, id, true); ok {
		return &EntryHandler{Meta: EntryMeta{ID: id}.withDefaults(), Invoke: fn}, true
	}
	return nil, false
}

func attribute(instance any, id string, prefixed bool) (HandlerFunc, bool) {
	if instance == nil {
		return nil, false
	}
	if al, ok := instance.(AttributeLookup); ok {
		name := id
		if prefixed {
			name = "entry_" + id
		}
		return al.LookupAttribute(name)
	}
	name := exportedName(id)
	if name == "" {
		return nil, false
	}
	if prefixed {
		name = "Entry" + name
	}
	mv := reflect.ValueOf(instance).MethodByName(name)
	if !mv.IsValid() {
		return nil, false
	}
	return asHandler(mv)
}

func methodHandlers(instance any) map[string]HandlerFunc {
	out := make(map[string]HandlerFunc)
	if instance == nil {
		return out
	}
	v := reflect.ValueOf(instance)
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		fn, ok := asHandler(v.Method(i))
		if !ok {
			continue
		}
		out[snakeName(t.Method(i).Name)] = fn
	}
	return out
}

func asHandler(mv reflect.Value) (HandlerFunc, bool) {
	switch fn := mv.Interface().(type) {
	case func(context.Context, Args) (any, error):
		return fn, true
	case HandlerFunc:
		return fn, true
	default:
		return nil, false
	}
}

// exportedName turns "reset_counter" into "ResetCounter".
func exportedName(id string) string {
	var b strings.Builder
	upper := true
	for _, r := range id {
		if r == '_' || r == '-' || r == '.' {
			upper = true
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return ""
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snakeName turns "ResetCounter" into "reset_counter".
func snakeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StaticEntries lists the triggerable entries of def without constructing
// it, plus every declared entry that has no registration. def may be nil
// when only declared entries are known. The result is sorted by id.
func StaticEntries(def *Definition, declared []EntryMeta) []EntryMeta {
	var registered []EntryMeta
	if def != nil {
		for _, b := range def.bindings {
			if b.meta.EventType == EventPluginEntry {
				registered = append(registered, b.meta)
			}
		}
	}
	return MergeDeclared(registered, declared)
}

// MergeDeclared combines registered plugin entries with declared ones.
// Registrations win over declarations with the same id and later
// registrations win over earlier ones. Declared entries are forced into
// the plugin_entry category. The result is sorted by id.
func MergeDeclared(registered, declared []EntryMeta) []EntryMeta {
	byID := make(map[string]EntryMeta, len(registered)+len(declared))
	for _, m := range registered {
		if m.ID == "" || m.EventType != EventPluginEntry {
			continue
		}
		byID[m.ID] = m
	}
	for _, d := range declared {
		if d.ID == "" {
			continue
		}
		if _, ok := byID[d.ID]; ok {
			continue
		}
		meta := d.withDefaults()
		meta.EventType = EventPluginEntry
		byID[d.ID] = meta
	}
	out := make([]EntryMeta, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
