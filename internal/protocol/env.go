// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"encoding/json"
	"io"

	"github.com/samber/oops"

	"github.com/holomush/plughost/pkg/plugin"
)

// Environment variables the host sets on a plugin process.
const (
	EnvPluginID   = "PLUGHOST_PLUGIN_ID"
	EnvDefinition = "PLUGHOST_DEFINITION"
	EnvConfigPath = "PLUGHOST_CONFIG_PATH"
	EnvLogLevel   = "PLUGHOST_LOG_LEVEL"
	// EnvDescribe asks the process to print its Description and exit
	// without constructing any plugin.
	EnvDescribe = "PLUGHOST_DESCRIBE"
)

// DefinitionInfo is the static view of one plugin definition.
type DefinitionInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Version     string             `json:"version,omitempty"`
	Entries     []plugin.EntryMeta `json:"entries"`
}

// Description is what a plugin process prints in describe mode.
type Description struct {
	Definitions []DefinitionInfo `json:"definitions"`
}

// Describe builds the description of defs without constructing them.
func Describe(defs ...*plugin.Definition) Description {
	d := Description{Definitions: make([]DefinitionInfo, 0, len(defs))}
	for _, def := range defs {
		d.Definitions = append(d.Definitions, DefinitionInfo{
			Name:        def.Name(),
			Description: def.Description(),
			Version:     def.Version(),
			Entries:     plugin.StaticEntries(def, nil),
		})
	}
	return d
}

// Find returns the definition named name. An empty name selects the only
// definition when there is exactly one.
func (d Description) Find(name string) (DefinitionInfo, bool) {
	if name == "" && len(d.Definitions) == 1 {
		return d.Definitions[0], true
	}
	for _, info := range d.Definitions {
		if info.Name == name {
			return info, true
		}
	}
	return DefinitionInfo{}, false
}

// WriteDescription encodes d as JSON.
func WriteDescription(w io.Writer, d Description) error {
	if err := json.NewEncoder(w).Encode(d); err != nil {
		return oops.In("protocol").Wrapf(err, "write description")
	}
	return nil
}

// ReadDescription decodes a description written by WriteDescription.
func ReadDescription(data []byte) (Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return Description{}, oops.In("protocol").Wrapf(err, "read description")
	}
	return d, nil
}
