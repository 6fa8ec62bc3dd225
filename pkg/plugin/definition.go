// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

// ErrInvalidArgs marks a trigger whose arguments could not be bound to the
// handler's parameter type.
var ErrInvalidArgs = errors.New("invalid arguments")

// HandlerFunc is an entry bound to a live plugin instance.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// EntryHandler pairs an entry's metadata with its bound handler. It exists
// only inside the plugin process that created it.
type EntryHandler struct {
	Meta   EntryMeta
	Invoke HandlerFunc
}

// binding is one registration waiting for an instance.
type binding struct {
	meta EntryMeta
	bind func(instance any) HandlerFunc
}

// Definition is the registration table of one plugin type. It can be
// inspected without constructing the plugin.
type Definition struct {
	name        string
	description string
	version     string
	construct   func(*Context) (any, error)
	bindings    []binding
}

// Name returns the definition name used by entry locators.
func (d *Definition) Name() string { return d.name }

// Description returns the human-readable description.
func (d *Definition) Description() string { return d.description }

// Version returns the plugin version declared by the definition.
func (d *Definition) Version() string { return d.version }

// New constructs one plugin instance.
func (d *Definition) New(pc *Context) (any, error) {
	if d.construct == nil {
		return nil, oops.In("plugin").With("definition", d.name).Errorf("definition %s has no constructor", d.name)
	}
	inst, err := d.construct(pc)
	if err != nil {
		return nil, oops.In("plugin").With("definition", d.name).Wrapf(err, "construct %s", d.name)
	}
	return inst, nil
}

// Metas returns the registered metadata in registration order.
func (d *Definition) Metas() []EntryMeta {
	out := make([]EntryMeta, len(d.bindings))
	for i, b := range d.bindings {
		out[i] = b.meta
	}
	return out
}

// Builder registers entries for a plugin type T.
type Builder[T any] struct {
	def *Definition
}

// Define starts a definition whose instances are built by ctor.
func Define[T any](name string, ctor func(*Context) (T, error)) *Builder[T] {
	return &Builder[T]{def: &Definition{
		name: name,
		construct: func(pc *Context) (any, error) {
			return ctor(pc)
		},
	}}
}

// Describe sets the description and version reported in listings.
func (b *Builder[T]) Describe(description, version string) *Builder[T] {
	b.def.description = description
	b.def.version = version
	return b
}

// Entry registers a handler under meta. Registering the same category and
// id twice keeps the last registration.
func (b *Builder[T]) Entry(meta EntryMeta, fn func(T, context.Context, Args) (any, error)) *Builder[T] {
	b.def.bindings = append(b.def.bindings, binding{
		meta: meta.withDefaults(),
		bind: func(instance any) HandlerFunc {
			inst, _ := instance.(T)
			return func(ctx context.Context, args Args) (any, error) {
				return fn(inst, ctx, args)
			}
		},
	})
	return b
}

// Action registers a triggerable entry that runs to completion.
func (b *Builder[T]) Action(id, description string, fn func(T, context.Context, Args) (any, error)) *Builder[T] {
	return b.Entry(EntryMeta{
		EventType:   EventPluginEntry,
		ID:          id,
		Description: description,
		Kind:        KindAction,
	}, fn)
}

// Service registers a triggerable entry that starts long-running work.
func (b *Builder[T]) Service(id, description string, fn func(T, context.Context, Args) (any, error)) *Builder[T] {
	return b.Entry(EntryMeta{
		EventType:   EventPluginEntry,
		ID:          id,
		Description: description,
		Kind:        KindService,
	}, fn)
}

// OnStartup registers the lifecycle hook run once before commands are served.
func (b *Builder[T]) OnStartup(fn func(T, context.Context) error) *Builder[T] {
	return b.Entry(EntryMeta{EventType: EventLifecycle, ID: LifecycleStartup}, hook(fn))
}

// OnShutdown registers the lifecycle hook run when the host stops the plugin.
func (b *Builder[T]) OnShutdown(fn func(T, context.Context) error) *Builder[T] {
	return b.Entry(EntryMeta{EventType: EventLifecycle, ID: LifecycleShutdown}, hook(fn))
}

// Timer registers fn to run every interval for the life of the process.
func (b *Builder[T]) Timer(id string, interval time.Duration, fn func(T, context.Context) error) *Builder[T] {
	return b.Entry(EntryMeta{
		EventType: EventTimer,
		ID:        id,
		Kind:      KindService,
		AutoStart: true,
		Extra:     map[string]any{ExtraInterval: interval.String()},
	}, hook(fn))
}

// Build returns the finished definition.
func (b *Builder[T]) Build() *Definition {
	return b.def
}

func hook[T any](fn func(T, context.Context) error) func(T, context.Context, Args) (any, error) {
	return func(inst T, ctx context.Context, _ Args) (any, error) {
		return nil, fn(inst, ctx)
	}
}

// Typed adapts a handler taking a decoded parameter struct. Arguments that
// do not decode into A fail with ErrInvalidArgs before fn runs.
func Typed[T, A any](fn func(T, context.Context, A) (any, error)) func(T, context.Context, Args) (any, error) {
	return func(inst T, ctx context.Context, args Args) (any, error) {
		var a A
		if err := args.Decode(&a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		return fn(inst, ctx, a)
	}
}
