// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the plughost configuration.
//
// Values are layered: built-in defaults, then the YAML config file, then
// command-line flags that were set explicitly.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/supervisor"
	"github.com/holomush/plughost/internal/xdg"
	"github.com/holomush/plughost/pkg/plugin"
)

// CodeInvalid marks a configuration that failed to load or validate.
const CodeInvalid = "CONFIG_INVALID"

// Default configuration values.
const (
	defaultLogFormat       = logging.FormatJSON
	defaultLogLevel        = "info"
	defaultMetricsAddr     = "127.0.0.1:9100"
	defaultTriggerTimeout  = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStartTimeout    = 10 * time.Second
	defaultStartRetries    = 2
)

// Config is the complete plughost configuration.
type Config struct {
	Log        LogConfig           `koanf:"log" json:"log"`
	Metrics    MetricsConfig       `koanf:"metrics" json:"metrics"`
	Timeouts   TimeoutConfig       `koanf:"timeouts" json:"timeouts"`
	Supervisor SupervisorConfig    `koanf:"supervisor" json:"supervisor"`
	Status     StatusConfig        `koanf:"status" json:"status"`
	Plugins    []plugin.Descriptor `koanf:"plugins" json:"plugins,omitempty" jsonschema:"description=Plugins loaded by serve"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability server. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr"`
}

// TimeoutConfig holds the host's time limits.
type TimeoutConfig struct {
	// Trigger applies when a caller passes no timeout.
	Trigger time.Duration `koanf:"trigger" json:"trigger"`
	// Shutdown is the graceful stop budget per plugin.
	Shutdown time.Duration `koanf:"shutdown" json:"shutdown"`
	// Escalation bounds the wait after a forced kill.
	Escalation time.Duration `koanf:"escalation" json:"escalation"`
	// Start bounds one plugin's spawn including retries.
	Start time.Duration `koanf:"start" json:"start"`
}

// SupervisorConfig tunes the per-plugin supervisors.
type SupervisorConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval"`
	StartRetries uint64        `koanf:"start_retries" json:"start_retries"`
}

// StatusConfig configures status aggregation and the optional journal.
type StatusConfig struct {
	DrainInterval time.Duration `koanf:"drain_interval" json:"drain_interval"`
	// DatabaseURL enables the Postgres status journal when set.
	DatabaseURL string `koanf:"database_url" json:"database_url,omitempty"`
}

// SupervisorSettings converts the config into supervisor settings.
func (c *Config) SupervisorSettings() supervisor.Config {
	return supervisor.Config{
		PollInterval:      c.Supervisor.PollInterval,
		EscalationTimeout: c.Timeouts.Escalation,
		StartRetries:      c.Supervisor.StartRetries,
	}
}

// defaults returns the built-in values keyed by config path.
func defaults() map[string]any {
	return map[string]any{
		"log.format":               defaultLogFormat,
		"log.level":                defaultLogLevel,
		"metrics.addr":             defaultMetricsAddr,
		"timeouts.trigger":         defaultTriggerTimeout,
		"timeouts.shutdown":        defaultShutdownTimeout,
		"timeouts.escalation":      supervisor.DefaultEscalationTimeout,
		"timeouts.start":           defaultStartTimeout,
		"supervisor.poll_interval": supervisor.DefaultPollInterval,
		"supervisor.start_retries": defaultStartRetries,
		"status.drain_interval":    100 * time.Millisecond,
		"status.database_url":      "",
	}
}

// flagKeys maps command-line flag names to config paths.
var flagKeys = map[string]string{
	"log-format":       "log.format",
	"log-level":        "log.level",
	"metrics-addr":     "metrics.addr",
	"trigger-timeout":  "timeouts.trigger",
	"shutdown-timeout": "timeouts.shutdown",
	"database-url":     "status.database_url",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-format", defaultLogFormat, "log format (json, text)")
	fs.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", defaultMetricsAddr, "observability server address, empty to disable")
	fs.Duration("trigger-timeout", defaultTriggerTimeout, "default trigger timeout")
	fs.Duration("shutdown-timeout", defaultShutdownTimeout, "graceful shutdown budget per plugin")
	fs.String("database-url", "", "PostgreSQL URL for the status journal")
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() (string, error) {
	return xdg.ConfigFile()
}

// Load builds the configuration. An empty path uses DefaultPath and
// tolerates its absence; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeInvalid).In("config").With("key", key).Wrap(err)
		}
	}

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, oops.Code(CodeInvalid).In("config").With("path", path).Hint("failed to read config file").Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).In("config").Hint("failed to apply flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).In("config").With("path", path).Hint("malformed config").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks formats and durations. Plugin descriptors are checked
// when they are loaded so one bad plugin does not stop the others.
func (c *Config) Validate() error {
	errb := oops.Code(CodeInvalid).In("config")
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatText:
	default:
		return errb.With("log.format", c.Log.Format).Errorf("log.format must be %q or %q", logging.FormatJSON, logging.FormatText)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errb.With("log.level", c.Log.Level).Wrap(err)
	}
	durations := []struct {
		key string
		val time.Duration
	}{
		{"timeouts.trigger", c.Timeouts.Trigger},
		{"timeouts.shutdown", c.Timeouts.Shutdown},
		{"timeouts.escalation", c.Timeouts.Escalation},
		{"timeouts.start", c.Timeouts.Start},
		{"supervisor.poll_interval", c.Supervisor.PollInterval},
		{"status.drain_interval", c.Status.DrainInterval},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return errb.With(d.key, d.val.String()).Errorf("%s must be positive", d.key)
		}
	}
	return nil
}
