// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/plughost/pkg/errutil"
	"github.com/holomush/plughost/pkg/plugin"
)

// CatalogEntry is one statically known entry of a loaded plugin.
type CatalogEntry struct {
	PluginID string
	// Handler names the handler the child resolves for this entry.
	Handler string
	Meta    plugin.EntryMeta

	schema *jschema.Schema
}

// Validate checks args against the entry's input schema. Entries without
// a schema accept anything.
func (e CatalogEntry) Validate(args map[string]any) error {
	if e.schema == nil {
		return nil
	}
	var doc any = map[string]any{}
	if args != nil {
		doc = args
	}
	if err := e.schema.Validate(doc); err != nil {
		return oops.Code(errutil.CodeInvalidArgs).In("host").
			With("plugin", e.PluginID).
			With("entry", e.Meta.ID).
			Wrapf(err, "arguments do not match the input schema of %s/%s", e.PluginID, e.Meta.ID)
	}
	return nil
}

// Catalog maps (plugin id, entry id) to what the host knows about the entry
// without asking the plugin process.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]map[string]CatalogEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]map[string]CatalogEntry)}
}

// Set replaces the entries of pluginID. Entries sharing an id keep the last
// one. Input schemas are compiled here; a schema that does not compile is
// reported and its entry is stored without validation.
func (c *Catalog) Set(pluginID, definition string, metas []plugin.EntryMeta) []error {
	byID := make(map[string]CatalogEntry, len(metas))
	var problems []error
	for _, m := range metas {
		entry := CatalogEntry{
			PluginID: pluginID,
			Handler:  handlerName(definition, m.ID),
			Meta:     m,
		}
		if len(m.InputSchema) > 0 {
			sch, err := compileSchema(pluginID, m)
			if err != nil {
				problems = append(problems, err)
			} else {
				entry.schema = sch
			}
		}
		byID[m.ID] = entry
	}
	c.mu.Lock()
	c.entries[pluginID] = byID
	c.mu.Unlock()
	return problems
}

// Get returns the entry registered for pluginID and entryID.
func (c *Catalog) Get(pluginID, entryID string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[pluginID][entryID]
	return e, ok
}

// Entries returns pluginID's entry metadata sorted by id.
func (c *Catalog) Entries(pluginID string) []plugin.EntryMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byID := c.entries[pluginID]
	out := make([]plugin.EntryMeta, 0, len(byID))
	for _, e := range byID {
		out = append(out, e.Meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove forgets pluginID.
func (c *Catalog) Remove(pluginID string) {
	c.mu.Lock()
	delete(c.entries, pluginID)
	c.mu.Unlock()
}

func handlerName(definition, entryID string) string {
	if definition == "" {
		return entryID
	}
	return definition + "." + entryID
}

func compileSchema(pluginID string, m plugin.EntryMeta) (*jschema.Schema, error) {
	url := fmt.Sprintf("plughost://%s/%s.json", pluginID, m.ID)
	c := jschema.NewCompiler()
	if err := c.AddResource(url, m.InputSchema); err != nil {
		return nil, oops.In("host").With("plugin", pluginID).With("entry", m.ID).Wrapf(err, "add input schema")
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, oops.In("host").With("plugin", pluginID).With("entry", m.ID).Wrapf(err, "compile input schema")
	}
	return sch, nil
}
