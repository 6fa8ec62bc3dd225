// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package luaplugin turns a Lua script into a plugin definition.
//
// The script registers its entries when it is loaded:
//
//	plugin{ name = "Greeter", description = "says hello", version = "0.1.0" }
//
//	entry{
//		id = "greet",
//		description = "greet someone",
//		schema = { type = "object", properties = { name = { type = "string" } } },
//		handler = function(args) return { greeting = "hello " .. args.name } end,
//	}
//
//	timer{ id = "heartbeat", interval = "5s", handler = function() status({ alive = true }) end }
//
//	on_startup(function() log.info("ready") end)
//
// Global functions are reachable as entries too: a trigger for "shout"
// runs the global shout or entry_shout when no entry is registered under
// that id. Calls into one script are serialized.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package luaplugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plughost/pkg/plugin"
)

// registration is one entry recorded while the script loads.
type registration struct {
	meta plugin.EntryMeta
	fn   *lua.LFunction
}

// Script is a loaded Lua plugin. It is both the definition's source and
// the instance its constructor returns.
type Script struct {
	path string

	mu       sync.Mutex
	L        *lua.LState
	reserved map[string]struct{}
	regs     []registration
	bound    bool
	publish  plugin.StatusFunc
	logger   *slog.Logger

	name        string
	description string
	version     string
}

// Compile-time interface check.
var _ plugin.AttributeLookup = (*Script)(nil)

// Load runs the script at path and returns its definition. The definition
// constructs exactly one instance; load the script again for another.
func Load(path string) (*plugin.Definition, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	return s.Definition(), nil
}

// Open runs the script at path and records its registrations.
func Open(path string) (*Script, error) {
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("luaplugin").With("path", path).Hint("failed to read script").Wrap(err)
	}
	return openString(path, string(code), defaultLibraries())
}

func openString(path, code string, libs []library) (*Script, error) {
	L, err := newState(libs)
	if err != nil {
		return nil, oops.In("luaplugin").With("path", path).Hint("failed to create state").Wrap(err)
	}
	s := &Script{
		path:    path,
		L:       L,
		name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		publish: func(any) {},
		logger:  slog.Default(),
	}
	s.install()
	s.reserved = make(map[string]struct{})
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		s.reserved[k.String()] = struct{}{}
	})

	if err := L.DoString(code); err != nil {
		L.Close()
		return nil, oops.In("luaplugin").With("path", path).Hint("script error").Wrap(err)
	}
	return s, nil
}

// Name returns the plugin name declared by the script, or the file name.
func (s *Script) Name() string { return s.name }

// Close releases the interpreter.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}

// Definition builds the plugin definition from the recorded registrations.
func (s *Script) Definition() *plugin.Definition {
	b := plugin.Define(s.name, s.bind).Describe(s.description, s.version)
	for _, r := range s.regs {
		fn, withArgs := r.fn, r.meta.EventType == plugin.EventPluginEntry || r.meta.EventType == plugin.EventMessage
		b.Entry(r.meta, func(inst *Script, ctx context.Context, args plugin.Args) (any, error) {
			if !withArgs {
				return inst.call(ctx, fn)
			}
			return inst.callArgs(ctx, fn, args)
		})
	}
	return b.Build()
}

// bind attaches the plugin context. A script backs one instance only.
func (s *Script) bind(pc *plugin.Context) (*Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return nil, oops.In("luaplugin").With("path", s.path).Errorf("script %s is already bound to a plugin", s.name)
	}
	s.bound = true
	s.publish = pc.PublishStatus
	s.logger = pc.Logger
	return s, nil
}

// LookupAttribute resolves a global Lua function by name. Functions
// installed by the runtime are not entries.
func (s *Script) LookupAttribute(name string) (plugin.HandlerFunc, bool) {
	if _, ok := s.reserved[name]; ok {
		return nil, false
	}
	s.mu.Lock()
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return func(ctx context.Context, args plugin.Args) (any, error) {
		return s.callArgs(ctx, fn, args)
	}, true
}

func (s *Script) callArgs(ctx context.Context, fn *lua.LFunction, args plugin.Args) (any, error) {
	if args == nil {
		args = plugin.Args{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoke(ctx, fn, toLua(s.L, map[string]any(args)))
}

func (s *Script) call(ctx context.Context, fn *lua.LFunction) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoke(ctx, fn)
}

// invoke runs fn with s.mu held.
func (s *Script) invoke(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (any, error) {
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		s.L.SetTop(top)
		return nil, oops.In("luaplugin").With("plugin", s.name).Wrap(err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return fromLua(ret), nil
}

// install registers the script-facing API as globals.
func (s *Script) install() {
	L := s.L
	L.SetGlobal("plugin", L.NewFunction(s.luaPlugin))
	L.SetGlobal("entry", L.NewFunction(s.luaEntry))
	L.SetGlobal("timer", L.NewFunction(s.luaTimer))
	L.SetGlobal("on_startup", L.NewFunction(s.lifecycle(plugin.LifecycleStartup)))
	L.SetGlobal("on_shutdown", L.NewFunction(s.lifecycle(plugin.LifecycleShutdown)))
	L.SetGlobal("status", L.NewFunction(s.luaStatus))
	L.SetGlobal("sleep", L.NewFunction(luaSleep))

	logMod := L.NewTable()
	L.SetField(logMod, "debug", L.NewFunction(s.luaLog(slog.LevelDebug)))
	L.SetField(logMod, "info", L.NewFunction(s.luaLog(slog.LevelInfo)))
	L.SetField(logMod, "warn", L.NewFunction(s.luaLog(slog.LevelWarn)))
	L.SetField(logMod, "error", L.NewFunction(s.luaLog(slog.LevelError)))
	L.SetGlobal("log", logMod)
}

// luaPlugin sets the plugin name, description and version.
func (s *Script) luaPlugin(L *lua.LState) int {
	tbl := L.CheckTable(1)
	if v := optString(tbl, "name"); v != "" {
		s.name = v
	}
	s.description = optString(tbl, "description")
	s.version = optString(tbl, "version")
	return 0
}

// luaEntry registers a triggerable entry.
func (s *Script) luaEntry(L *lua.LState) int {
	tbl := L.CheckTable(1)
	meta := plugin.EntryMeta{
		EventType:   plugin.EventType(optString(tbl, "event_type")),
		ID:          optString(tbl, "id"),
		Name:        optString(tbl, "name"),
		Description: optString(tbl, "description"),
		Kind:        plugin.Kind(optString(tbl, "kind")),
		AutoStart:   lua.LVAsBool(tbl.RawGetString("auto_start")),
	}
	if meta.ID == "" {
		L.ArgError(1, "entry id is required")
	}
	switch meta.Kind {
	case "", plugin.KindAction, plugin.KindService:
	default:
		L.ArgError(1, "entry kind must be action or service")
	}
	if schema, ok := tbl.RawGetString("schema").(*lua.LTable); ok {
		if m, ok := fromLua(schema).(map[string]any); ok {
			meta.InputSchema = m
		}
	}
	if extra, ok := tbl.RawGetString("extra").(*lua.LTable); ok {
		if m, ok := fromLua(extra).(map[string]any); ok {
			meta.Extra = m
		}
	}
	s.register(L, meta, tbl.RawGetString("handler"))
	return 0
}

// luaTimer registers an entry run on an interval for the life of the
// process.
func (s *Script) luaTimer(L *lua.LState) int {
	tbl := L.CheckTable(1)
	meta := plugin.EntryMeta{
		EventType: plugin.EventTimer,
		ID:        optString(tbl, "id"),
		Kind:      plugin.KindService,
		AutoStart: true,
		Extra:     map[string]any{plugin.ExtraInterval: fromLua(tbl.RawGetString("interval"))},
	}
	if meta.ID == "" {
		L.ArgError(1, "timer id is required")
	}
	if _, ok := meta.Interval(); !ok {
		L.ArgError(1, "timer interval must be a positive number of seconds or a duration string")
	}
	s.register(L, meta, tbl.RawGetString("handler"))
	return 0
}

func (s *Script) lifecycle(id string) lua.LGFunction {
	return func(L *lua.LState) int {
		fn := L.CheckFunction(1)
		s.register(L, plugin.EntryMeta{EventType: plugin.EventLifecycle, ID: id}, fn)
		return 0
	}
}

func (s *Script) register(L *lua.LState, meta plugin.EntryMeta, handler lua.LValue) {
	fn, ok := handler.(*lua.LFunction)
	if !ok {
		L.ArgError(1, "handler must be a function")
		return
	}
	s.regs = append(s.regs, registration{meta: meta, fn: fn})
}

// luaStatus publishes its argument as the plugin's status.
func (s *Script) luaStatus(L *lua.LState) int {
	s.publish(fromLua(L.Get(1)))
	return 0
}

// luaLog logs a message with an optional table of fields.
func (s *Script) luaLog(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		var attrs []any
		if fields, ok := L.Get(2).(*lua.LTable); ok {
			fields.ForEach(func(k, v lua.LValue) {
				attrs = append(attrs, k.String(), fromLua(v))
			})
		}
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		s.logger.Log(ctx, level, msg, attrs...)
		return 0
	}
}

// luaSleep pauses for the given seconds, raising an error when the call's
// context ends first.
func luaSleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		L.RaiseError("sleep interrupted: %v", ctx.Err())
	}
	return 0
}

func optString(tbl *lua.LTable, key string) string {
	if v, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(v)
	}
	return ""
}
