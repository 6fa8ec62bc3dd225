// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives an input schema from the parameter struct A. The result
// is suitable for EntryMeta.InputSchema; it is nil if A cannot be reflected.
func SchemaFor[A any]() map[string]any {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(new(A))
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// WithSchema returns meta with its input schema derived from A.
func WithSchema[A any](meta EntryMeta) EntryMeta {
	meta.InputSchema = SchemaFor[A]()
	return meta
}
