// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"context"
	"errors"

	goplugin "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PluginName is the name the runtime is dispensed under.
const PluginName = "runtime"

// HandshakeConfig is shared by the host and every plugin process.
var HandshakeConfig = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHOST_PLUGIN",
	MagicCookieValue: "plughost-v1",
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]goplugin.Plugin{
	PluginName: &GRPCPlugin{},
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	goplugin.NetRPCUnsupportedPlugin
	// Impl is used by the plugin side only.
	Impl RuntimeServer
}

// GRPCServer registers the runtime service (called by the plugin process).
func (p *GRPCPlugin) GRPCServer(_ *goplugin.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("protocol: runtime implementation is nil")
	}
	RegisterRuntimeServer(s, p.Impl)
	return nil
}

// GRPCClient returns a runtime client (called by the host).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *goplugin.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewRuntimeClient(c), nil
}
