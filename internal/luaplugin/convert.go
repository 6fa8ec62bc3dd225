// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package luaplugin

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a JSON-compatible Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a JSON-compatible Go value. Tables
// whose keys are exactly 1..n become []any; every other table becomes
// map[string]any, including the empty table.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		if isArray(val) {
			out := make([]any, 0, val.MaxN())
			for i := 1; i <= val.MaxN(); i++ {
				out = append(out, fromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLua(item)
		})
		return out
	default:
		return v.String()
	}
}

// isArray reports whether tbl is a non-empty sequence with no other keys.
func isArray(tbl *lua.LTable) bool {
	n := tbl.MaxN()
	if n == 0 {
		return false
	}
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) { count++ })
	return count == n
}
