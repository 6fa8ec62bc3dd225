// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginsdk

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/protocol"
	"github.com/holomush/plughost/pkg/plugin"
)

type stub struct{}

func stubDefinition(name string) *plugin.Definition {
	return plugin.Define(name, func(*plugin.Context) (*stub, error) {
		panic("describe must not construct plugins")
	}).
		Describe("stub plugin", "0.1.0").
		Action("ping", "", func(*stub, context.Context, plugin.Args) (any, error) { return "pong", nil }).
		Build()
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestHandshakeConfig(t *testing.T) {
	assert.Equal(t, uint(1), HandshakeConfig.ProtocolVersion, "HandshakeConfig protocol version should be 1")
	assert.Equal(t, "PLUGHOST_PLUGIN", HandshakeConfig.MagicCookieKey, "HandshakeConfig magic cookie key mismatch")
	assert.Equal(t, "plughost-v1", HandshakeConfig.MagicCookieValue, "HandshakeConfig magic cookie value mismatch")
}

func TestRun_Describe(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), env(map[string]string{protocol.EnvDescribe: "1"}), &stdout, &stderr,
		stubDefinition("a"), stubDefinition("b"))
	require.NoError(t, err)

	d, err := protocol.ReadDescription(stdout.Bytes())
	require.NoError(t, err)
	require.Len(t, d.Definitions, 2)
	info, ok := d.Find("b")
	require.True(t, ok)
	assert.Equal(t, "0.1.0", info.Version)
	require.Len(t, info.Entries, 1)
	assert.Equal(t, "ping", info.Entries[0].ID)
}

func TestRun_NoDefinitions(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), env(nil), &out, &out)
	assert.Error(t, err)
}

func TestRun_UnknownDefinition(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), env(map[string]string{protocol.EnvDefinition: "missing"}), &out, &out, stubDefinition("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestSelect(t *testing.T) {
	a, b := stubDefinition("a"), stubDefinition("b")

	got, err := Select("", []*plugin.Definition{a, b})
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = Select("b", []*plugin.Definition{a, b})
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = Select("", nil)
	assert.Error(t, err)
}
