// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package luaplugin

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// library is a Lua library opened in plugin states.
type library struct {
	name string
	fn   lua.LGFunction
}

// defaultLibraries returns the libraries opened in plugin states.
// Opened: base, table, string, math.
// Not opened: os, io, debug, package.
func defaultLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// blockedBaseFunctions reach the filesystem and are removed from the base
// library.
var blockedBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// newState creates a Lua state with only the given libraries loaded.
func newState(libs []library) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}
	for _, fn := range blockedBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}
