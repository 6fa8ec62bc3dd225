// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"bytes"
	"log/slog"
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// StatusFunc delivers one status payload to the host. It must not block.
type StatusFunc func(data any)

// Context is handed to a plugin constructor. It stays valid for the life of
// the plugin process.
type Context struct {
	// PluginID is the id the host loaded this plugin under.
	PluginID string
	// ConfigPath is the descriptor's config path, possibly empty.
	ConfigPath string
	// Logger writes to the process's stderr, which the host captures.
	Logger *slog.Logger

	status StatusFunc
}

// NewContext builds a Context. A nil logger falls back to slog.Default and a
// nil status func discards updates.
func NewContext(pluginID, configPath string, logger *slog.Logger, status StatusFunc) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	if status == nil {
		status = func(any) {}
	}
	return &Context{
		PluginID:   pluginID,
		ConfigPath: configPath,
		Logger:     logger.With("plugin", pluginID),
		status:     status,
	}
}

// PublishStatus reports the plugin's current operational state to the host.
// Fire-and-forget: delivery is not acknowledged.
func (c *Context) PublishStatus(data any) {
	c.status(data)
}

// LoadConfig decodes the YAML file at ConfigPath into v. A missing path is
// not an error; v is left untouched.
func (c *Context) LoadConfig(v any) error {
	if c.ConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return oops.In("plugin").With("plugin", c.PluginID).With("path", c.ConfigPath).Hint("failed to read plugin config").Wrap(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return oops.In("plugin").With("plugin", c.PluginID).With("path", c.ConfigPath).Hint("invalid plugin config").Wrap(err)
	}
	return nil
}
