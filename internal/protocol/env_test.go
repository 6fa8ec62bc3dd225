// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/pkg/plugin"
)

type noop struct{}

func TestDescribe_RoundTrip(t *testing.T) {
	constructed := false
	def := plugin.Define("echo", func(*plugin.Context) (*noop, error) {
		constructed = true
		return &noop{}, nil
	}).
		Describe("echoes", "1.2.3").
		Action("say", "say it back", func(*noop, context.Context, plugin.Args) (any, error) { return nil, nil }).
		OnStartup(func(*noop, context.Context) error { return nil }).
		Build()

	var buf bytes.Buffer
	require.NoError(t, WriteDescription(&buf, Describe(def)))
	assert.False(t, constructed, "describe never constructs the plugin")

	d, err := ReadDescription(buf.Bytes())
	require.NoError(t, err)

	info, ok := d.Find("")
	require.True(t, ok, "single definition is selected by default")
	assert.Equal(t, "echo", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	require.Len(t, info.Entries, 1)
	assert.Equal(t, "say", info.Entries[0].ID)

	_, ok = d.Find("other")
	assert.False(t, ok)
}

func TestDescription_FindAmbiguous(t *testing.T) {
	d := Description{Definitions: []DefinitionInfo{{Name: "a"}, {Name: "b"}}}

	_, ok := d.Find("")
	assert.False(t, ok)

	info, ok := d.Find("b")
	require.True(t, ok)
	assert.Equal(t, "b", info.Name)
}

func TestReadDescription_Invalid(t *testing.T) {
	_, err := ReadDescription([]byte("not json"))
	assert.Error(t, err)
}
