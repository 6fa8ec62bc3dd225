// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args is the argument object of one trigger. Values are JSON-compatible:
// strings, float64 numbers, bools, nil, []any and map[string]any.
type Args map[string]any

// Decode copies the arguments into v, matching keys against v's json tags.
// Unknown keys are rejected so a caller's typo fails loudly.
func (a Args) Decode(v any) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// String returns the string argument under key, or "" when absent or not a
// string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Float returns the numeric argument under key.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
