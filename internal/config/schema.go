// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://plughost.dev/schemas/config.schema.json"

var durationType = reflect.TypeOf(time.Duration(0))

// durationPattern matches Go duration strings such as "1m30s".
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// Schema returns the JSON Schema of the config file, indented.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{Type: "string", Pattern: durationPattern}
			}
			return nil
		},
	}
	s := r.Reflect(&Config{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "plughost configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "marshal config schema")
	}
	return data, nil
}
