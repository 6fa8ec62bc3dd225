// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"
	"github.com/shirou/gopsutil/v4/process"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/plugin"
)

// DefaultStartTimeout bounds the go-plugin handshake.
const DefaultStartTimeout = 10 * time.Second

// channelBuffer sizes the host-side result and status channels.
const channelBuffer = 256

// Describer lists a plugin's definitions without starting it.
type Describer interface {
	Describe(ctx context.Context, desc plugin.Descriptor) (protocol.Description, error)
}

// GoPluginFactory spawns plugins as go-plugin child processes speaking
// the runtime service over gRPC.
type GoPluginFactory struct {
	// HostExecutable runs Lua plugins through its hidden runtime command.
	// Defaults to the running executable.
	HostExecutable string
	// Logger receives go-plugin diagnostics and plugin stderr.
	Logger hclog.Logger
	// LogLevel is passed to plugins.
	LogLevel     string
	StartTimeout time.Duration
}

// Compile-time interface checks.
var (
	_ Factory   = (*GoPluginFactory)(nil)
	_ Describer = (*GoPluginFactory)(nil)
)

func (f *GoPluginFactory) command(ctx context.Context, desc plugin.Descriptor, extraEnv ...string) (*exec.Cmd, error) {
	loc, err := ParseLocator(desc.Entry)
	if err != nil {
		return nil, err
	}
	var cmd *exec.Cmd
	if loc.Lua {
		exe := f.HostExecutable
		if exe == "" {
			if exe, err = os.Executable(); err != nil {
				return nil, oops.In("supervisor").Wrapf(err, "locate host executable")
			}
		}
		// #nosec G204 -- the host binary re-executes itself with a configured script path
		cmd = exec.CommandContext(ctx, exe, "runtime", "--script", loc.Path)
	} else {
		if _, err := os.Stat(loc.Path); err != nil {
			return nil, oops.In("supervisor").With("path", loc.Path).Wrapf(errors.Join(ErrBadLocator, err), "plugin executable not found")
		}
		// #nosec G204 -- executable path comes from the host configuration
		cmd = exec.CommandContext(ctx, loc.Path)
	}
	cmd.Env = append([]string{
		protocol.EnvPluginID + "=" + desc.ID,
		protocol.EnvDefinition + "=" + loc.Definition,
		protocol.EnvConfigPath + "=" + desc.ConfigPath,
		protocol.EnvLogLevel + "=" + f.LogLevel,
	}, extraEnv...)
	return cmd, nil
}

func (f *GoPluginFactory) logger() hclog.Logger {
	if f.Logger == nil {
		return hclog.NewNullLogger()
	}
	return f.Logger
}

// Describe runs the plugin in describe mode and parses its listing.
func (f *GoPluginFactory) Describe(ctx context.Context, desc plugin.Descriptor) (protocol.Description, error) {
	cmd, err := f.command(ctx, desc, protocol.EnvDescribe+"=1")
	if err != nil {
		return protocol.Description{}, err
	}
	cmd.Env = append(os.Environ(), cmd.Env...)
	out, err := cmd.Output()
	if err != nil {
		return protocol.Description{}, oops.In("supervisor").With("plugin", desc.ID).Wrapf(err, "describe plugin")
	}
	return protocol.ReadDescription(out)
}

// Spawn starts the plugin process and opens its channels.
func (f *GoPluginFactory) Spawn(_ context.Context, desc plugin.Descriptor) (Process, error) {
	// The process outlives the spawn call, so it is not bound to its context.
	cmd, err := f.command(context.Background(), desc)
	if err != nil {
		return nil, err
	}
	timeout := f.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	client := hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  protocol.HandshakeConfig,
		Plugins:          protocol.PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           f.logger().Named(desc.ID),
		StartTimeout:     timeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, oops.In("supervisor").With("plugin", desc.ID).Wrapf(err, "connect to plugin")
	}
	raw, err := rpcClient.Dispense(protocol.PluginName)
	if err != nil {
		client.Kill()
		return nil, oops.In("supervisor").With("plugin", desc.ID).Wrapf(err, "dispense plugin")
	}
	rc, ok := raw.(*protocol.RuntimeClient)
	if !ok {
		client.Kill()
		return nil, oops.In("supervisor").With("plugin", desc.ID).Errorf("plugin does not implement the runtime service")
	}

	pid := 0
	if rcfg := client.ReattachConfig(); rcfg != nil {
		pid = rcfg.Pid
	}
	p := newRemoteProcess(desc.ID, pid, client, rc)
	if err := p.open(); err != nil {
		p.Kill()
		p.Close()
		return nil, err
	}
	return p, nil
}

// remoteProcess is a go-plugin child process.
type remoteProcess struct {
	id     string
	pid    int
	client *hashiplug.Client
	rc     *protocol.RuntimeClient
	log    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	results chan protocol.Result
	status  chan protocol.StatusUpdate
	pumps   sync.WaitGroup
	closed  sync.Once
}

func newRemoteProcess(id string, pid int, client *hashiplug.Client, rc *protocol.RuntimeClient) *remoteProcess {
	ctx, cancel := context.WithCancel(context.Background())
	return &remoteProcess{
		id:      id,
		pid:     pid,
		client:  client,
		rc:      rc,
		log:     slog.Default().With("plugin", id, "pid", pid),
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan protocol.Result, channelBuffer),
		status:  make(chan protocol.StatusUpdate, channelBuffer),
	}
}

func (p *remoteProcess) open() error {
	results, err := p.rc.Results(p.ctx)
	if err != nil {
		return oops.In("supervisor").With("plugin", p.id).Wrapf(err, "open result stream")
	}
	status, err := p.rc.Status(p.ctx)
	if err != nil {
		return oops.In("supervisor").With("plugin", p.id).Wrapf(err, "open status stream")
	}

	p.pumps.Add(2)
	go func() {
		defer p.pumps.Done()
		p.recv(results, func(env *structpb.Struct) {
			res, err := protocol.DecodeResult(env)
			if err != nil {
				p.log.Warn("dropping malformed result", "error", err)
				return
			}
			select {
			case p.results <- res:
			case <-p.ctx.Done():
			}
		})
	}()
	go func() {
		defer p.pumps.Done()
		p.recv(status, func(env *structpb.Struct) {
			u, err := protocol.DecodeStatus(env)
			if err != nil {
				p.log.Warn("dropping malformed status update", "error", err)
				return
			}
			select {
			case p.status <- u:
			default:
				p.log.Warn("status channel full, dropping update")
			}
		})
	}()
	return nil
}

func (p *remoteProcess) recv(stream protocol.EnvelopeReceiver, handle func(*structpb.Struct)) {
	for {
		env, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && p.ctx.Err() == nil {
				p.log.Debug("plugin stream closed", "error", err)
			}
			return
		}
		handle(env)
	}
}

func (p *remoteProcess) Send(ctx context.Context, cmd protocol.Command) error {
	env, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := p.rc.Send(ctx, env); err != nil {
		return oops.In("supervisor").With("plugin", p.id).Wrapf(err, "send %s command", cmd.Type)
	}
	return nil
}

func (p *remoteProcess) Results() <-chan protocol.Result      { return p.results }
func (p *remoteProcess) Status() <-chan protocol.StatusUpdate { return p.status }
func (p *remoteProcess) Exited() bool                         { return p.client.Exited() }
func (p *remoteProcess) Pid() int                             { return p.pid }

// Kill terminates the OS process directly so a plugin that stopped reading
// its commands cannot hold the host up.
func (p *remoteProcess) Kill() {
	if p.pid <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(p.pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		p.log.Debug("plugin process already gone", "error", err)
		return
	}
	if err := proc.Kill(); err != nil {
		p.log.Warn("failed to kill plugin process", "error", err)
	}
}

func (p *remoteProcess) Close() {
	p.closed.Do(func() {
		p.cancel()
		p.client.Kill()
		p.pumps.Wait()
	})
}

// Stats is a resource snapshot of a plugin process.
type Stats struct {
	RSSBytes   uint64
	CPUPercent float64
}

// StatsReporter is implemented by processes backed by an OS process.
type StatsReporter interface {
	Stats() (Stats, error)
}

// Stats reads the process's memory and CPU usage.
func (p *remoteProcess) Stats() (Stats, error) {
	proc, err := process.NewProcess(int32(p.pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return Stats{}, oops.In("supervisor").With("plugin", p.id).Wrapf(err, "inspect process")
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Stats{}, oops.In("supervisor").With("plugin", p.id).Wrapf(err, "read memory info")
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return Stats{}, oops.In("supervisor").With("plugin", p.id).Wrapf(err, "read cpu usage")
	}
	return Stats{RSSBytes: mem.RSS, CPUPercent: cpu}, nil
}
