// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/internal/runtime"
	"github.com/holomush/plughost/pkg/plugin"
)

// InProcessFactory runs plugins on goroutines of the host process. Every
// message still crosses the wire codec, so plugins observe the same value
// conversions as out of process. Locators name a registered definition:
// "<name>" or "<anything>:<name>".
type InProcessFactory struct {
	Definitions []*plugin.Definition
	// LoadScript builds a definition for "lua:<script>" locators. Every
	// spawn loads the script afresh so instances share no interpreter.
	LoadScript func(path string) (*plugin.Definition, error)
	Logger     *slog.Logger
	// Runtime tunes the embedded runtimes; PluginID, ConfigPath and Logger
	// are filled per plugin.
	Runtime runtime.Config
}

// Compile-time interface checks.
var (
	_ Factory   = (*InProcessFactory)(nil)
	_ Describer = (*InProcessFactory)(nil)
)

func (f *InProcessFactory) lookup(entry string) (*plugin.Definition, error) {
	loc, err := ParseLocator(entry)
	if err != nil {
		return nil, err
	}
	if loc.Lua {
		if f.LoadScript == nil {
			return nil, oops.In("supervisor").With("locator", entry).Wrapf(ErrBadLocator, "lua plugins are not supported in process")
		}
		def, err := f.LoadScript(loc.Path)
		if err != nil {
			return nil, oops.In("supervisor").With("locator", entry).Wrapf(errors.Join(ErrBadLocator, err), "load lua script")
		}
		return def, nil
	}
	name := loc.Definition
	if name == "" {
		name = loc.Path
	}
	for _, def := range f.Definitions {
		if def.Name() == name {
			return def, nil
		}
	}
	return nil, oops.In("supervisor").With("locator", entry).Wrapf(ErrBadLocator, "no in-process definition named %q", name)
}

// Describe lists the selected definition.
func (f *InProcessFactory) Describe(_ context.Context, desc plugin.Descriptor) (protocol.Description, error) {
	def, err := f.lookup(desc.Entry)
	if err != nil {
		return protocol.Description{}, err
	}
	return protocol.Describe(def), nil
}

// Spawn starts the plugin's runtime loop on a goroutine.
func (f *InProcessFactory) Spawn(_ context.Context, desc plugin.Descriptor) (Process, error) {
	def, err := f.lookup(desc.Entry)
	if err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := f.Runtime
	cfg.PluginID = desc.ID
	cfg.ConfigPath = desc.ConfigPath
	cfg.Logger = logger
	rt, err := runtime.New(def, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &localProcess{
		rt:      rt,
		cancel:  cancel,
		results: make(chan protocol.Result, channelBuffer),
		status:  make(chan protocol.StatusUpdate, channelBuffer),
		log:     logger.With("plugin", desc.ID),
	}
	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		if err := rt.Run(ctx); err != nil {
			p.log.Error("in-process plugin crashed", "error", err)
		}
	}()
	go func() {
		defer p.wg.Done()
		relay(rt.Results(), rt.Done(), func(res protocol.Result) {
			decoded, err := protocol.DecodeResult(protocol.EncodeResult(res))
			if err != nil {
				p.log.Warn("dropping malformed result", "error", err)
				return
			}
			p.results <- decoded
		})
	}()
	go func() {
		defer p.wg.Done()
		relay(rt.Status(), rt.Done(), func(u protocol.StatusUpdate) {
			env, err := protocol.EncodeStatus(u)
			if err != nil {
				p.log.Warn("dropping unencodable status update", "error", err)
				return
			}
			decoded, err := protocol.DecodeStatus(env)
			if err != nil {
				return
			}
			select {
			case p.status <- decoded:
			default:
				p.log.Warn("status channel full, dropping update")
			}
		})
	}()
	return p, nil
}

// relay forwards src until done is closed and src is drained.
func relay[T any](src <-chan T, done <-chan struct{}, forward func(T)) {
	for {
		select {
		case v := <-src:
			forward(v)
		case <-done:
			for {
				select {
				case v := <-src:
					forward(v)
				default:
					return
				}
			}
		}
	}
}

// localProcess is a runtime running on host goroutines.
type localProcess struct {
	rt      *runtime.Runtime
	cancel  context.CancelFunc
	results chan protocol.Result
	status  chan protocol.StatusUpdate
	log     *slog.Logger
	wg      sync.WaitGroup
	closed  sync.Once
}

func (p *localProcess) Send(_ context.Context, cmd protocol.Command) error {
	if p.Exited() {
		return oops.In("supervisor").Wrap(runtime.ErrStopped)
	}
	env, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	decoded, err := protocol.DecodeCommand(env)
	if err != nil {
		return err
	}
	return p.rt.Enqueue(decoded)
}

func (p *localProcess) Results() <-chan protocol.Result      { return p.results }
func (p *localProcess) Status() <-chan protocol.StatusUpdate { return p.status }
func (p *localProcess) Pid() int                             { return 0 }

func (p *localProcess) Exited() bool {
	select {
	case <-p.rt.Done():
		return true
	default:
		return false
	}
}

// Kill cancels the runtime; its loop exits after the shutdown grace.
func (p *localProcess) Kill() {
	p.cancel()
}

func (p *localProcess) Close() {
	p.closed.Do(func() {
		p.cancel()
		stop := make(chan struct{})
		go func() {
			// Drain so the relays can finish even if nobody reads.
			for {
				select {
				case <-p.results:
				case <-p.status:
				case <-stop:
					return
				}
			}
		}()
		p.wg.Wait()
		close(stop)
	})
}
