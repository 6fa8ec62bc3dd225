// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package supervisor

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/plugin"
)

// Process is the host's handle on one running plugin and its three
// channels.
type Process interface {
	// Send delivers a command to the plugin's command queue.
	Send(ctx context.Context, cmd protocol.Command) error
	// Results carries every result the plugin produced, in arrival order.
	Results() <-chan protocol.Result
	// Status carries status updates relayed from the plugin.
	Status() <-chan protocol.StatusUpdate
	// Exited reports whether the plugin has stopped running.
	Exited() bool
	// Kill terminates the plugin forcibly.
	Kill()
	// Close releases host-side resources once the plugin has exited.
	Close()
	// Pid is the OS process id, or 0 when the plugin is not an OS process.
	Pid() int
}

// Factory spawns plugin processes.
type Factory interface {
	Spawn(ctx context.Context, desc plugin.Descriptor) (Process, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, desc plugin.Descriptor) (Process, error)

// Spawn calls f.
func (f FactoryFunc) Spawn(ctx context.Context, desc plugin.Descriptor) (Process, error) {
	return f(ctx, desc)
}

// ErrBadLocator marks an entry locator that can never be spawned. Spawn
// attempts failing with it are not retried.
var ErrBadLocator = errors.New("bad entry locator")

// LuaScheme prefixes locators of Lua plugins.
const LuaScheme = "lua:"

// Locator is a parsed entry locator.
type Locator struct {
	// Lua is set for "lua:<script>" locators.
	Lua bool
	// Path is the executable or script path.
	Path string
	// Definition selects one definition in a multi-plugin executable.
	Definition string
}

// ParseLocator parses "<executable>[:<Definition>]" or "lua:<script>".
func ParseLocator(s string) (Locator, error) {
	if rest, ok := strings.CutPrefix(s, LuaScheme); ok {
		if rest == "" {
			return Locator{}, oops.In("supervisor").With("locator", s).Wrapf(ErrBadLocator, "lua locator without script")
		}
		return Locator{Lua: true, Path: rest}, nil
	}
	if s == "" {
		return Locator{}, oops.In("supervisor").Wrapf(ErrBadLocator, "empty locator")
	}
	loc := Locator{Path: s}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		name := s[i+1:]
		if name != "" && !strings.ContainsAny(name, `/\`) {
			loc.Path, loc.Definition = s[:i], name
		}
	}
	if loc.Path == "" {
		return Locator{}, oops.In("supervisor").With("locator", s).Wrapf(ErrBadLocator, "locator without executable")
	}
	return loc, nil
}

// String renders the locator in its parseable form.
func (l Locator) String() string {
	switch {
	case l.Lua:
		return LuaScheme + l.Path
	case l.Definition != "":
		return l.Path + ":" + l.Definition
	default:
		return l.Path
	}
}
