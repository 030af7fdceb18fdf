// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads pluginhost configuration from flag defaults, an
// optional YAML file and explicitly set flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/internal/xdg"
)

// Default values for configuration keys.
const (
	DefaultPluginsDir        = "plugins"
	DefaultHeartbeatInterval = time.Second
	DefaultTick              = 16 * time.Millisecond
	DefaultLogFormat         = "text"
	DefaultLogLevel          = "info"
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultControlAddr       = "127.0.0.1:9101"
	DefaultRedisPrefix       = "pluginhost"
)

// DefaultBuiltins is the set of in-process plugins started when none are configured.
var DefaultBuiltins = []string{"heartbeat", "logger", "echo", "manager", "console", "config"}

// Config is the full pluginhost configuration.
type Config struct {
	Plugins      PluginsConfig       `koanf:"plugins"`
	Host         HostConfig          `koanf:"host"`
	Log          LogConfig           `koanf:"log"`
	Datastore    DatastoreConfig     `koanf:"datastore"`
	Metrics      ListenConfig        `koanf:"metrics"`
	Control      ListenConfig        `koanf:"control"`
	Capabilities map[string][]string `koanf:"capabilities"`
}

// PluginsConfig selects which plugins are offered to the host.
type PluginsConfig struct {
	Dir               string        `koanf:"dir"`
	Builtin           []string      `koanf:"builtin"`
	HeartbeatInterval time.Duration `koanf:"heartbeat-interval"`
	ConfigFile        string        `koanf:"config-file"`
}

// HostConfig tunes the dispatch loop.
type HostConfig struct {
	Tick      time.Duration `koanf:"tick"`
	TickEvent bool          `koanf:"tick-event"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatastoreConfig selects the shared data store backend.
type DatastoreConfig struct {
	Backend       string         `koanf:"backend"`
	MaxEntries    int            `koanf:"max-entries"`
	MaxKeyBytes   int            `koanf:"max-key-bytes"`
	MaxValueBytes int            `koanf:"max-value-bytes"`
	Postgres      PostgresConfig `koanf:"postgres"`
	Redis         RedisConfig    `koanf:"redis"`
}

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr   string `koanf:"addr"`
	Prefix string `koanf:"prefix"`
}

// ListenConfig is a network listen address. Empty disables the listener.
type ListenConfig struct {
	Addr string `koanf:"addr"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"plugins-dir":        "plugins.dir",
	"builtin":            "plugins.builtin",
	"heartbeat-interval": "plugins.heartbeat-interval",
	"plugin-config":      "plugins.config-file",
	"tick":               "host.tick",
	"tick-event":         "host.tick-event",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"datastore":          "datastore.backend",
	"max-entries":        "datastore.max-entries",
	"max-key-bytes":      "datastore.max-key-bytes",
	"max-value-bytes":    "datastore.max-value-bytes",
	"postgres-url":       "datastore.postgres.url",
	"redis-addr":         "datastore.redis.addr",
	"redis-prefix":       "datastore.redis.prefix",
	"metrics-addr":       "metrics.addr",
	"control-addr":       "control.addr",
}

// RegisterFlags defines the flags that mirror configuration keys.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("plugins-dir", DefaultPluginsDir, "directory scanned for plugin manifests")
	flags.StringSlice("builtin", DefaultBuiltins, "in-process plugins to offer the host")
	flags.Duration("heartbeat-interval", DefaultHeartbeatInterval, "heartbeat plugin interval")
	flags.String("plugin-config", "", "key=value file read by the config plugin")
	flags.Duration("tick", DefaultTick, "dispatch loop tick")
	flags.Bool("tick-event", false, "publish a tick event every loop tick")
	flags.String("log-format", DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("datastore", datastore.BackendMemory, "data store backend (memory, postgres, redis)")
	flags.Int("max-entries", 0, "maximum data store entries (0 = unlimited)")
	flags.Int("max-key-bytes", datastore.DefaultMaxKeyBytes, "maximum data store key size")
	flags.Int("max-value-bytes", datastore.DefaultMaxValueBytes, "maximum data store value size")
	flags.String("postgres-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("redis-prefix", DefaultRedisPrefix, "Redis key prefix")
	flags.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("control-addr", DefaultControlAddr, "control gRPC address (empty = disabled)")
}

// Load builds the configuration. An empty path means the default file,
// which may be absent. An explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err == nil {
			path = def
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").
					In("config").
					With("path", path).
					Wrapf(err, "load config file")
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").In("config").Wrapf(err, "load flags")
		}
	}

	cfg := Defaults()
	if k.Exists("plugins.builtin") {
		cfg.Plugins.Builtin = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").In("config").Wrapf(err, "decode config")
	}
	if cfg.Datastore.Postgres.URL == "" {
		cfg.Datastore.Postgres.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Defaults returns the configuration used when no file or flag overrides it.
func Defaults() Config {
	return Config{
		Plugins: PluginsConfig{
			Dir:               DefaultPluginsDir,
			Builtin:           append([]string(nil), DefaultBuiltins...),
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
		Host: HostConfig{Tick: DefaultTick},
		Log:  LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Datastore: DatastoreConfig{
			Backend:       datastore.BackendMemory,
			MaxKeyBytes:   datastore.DefaultMaxKeyBytes,
			MaxValueBytes: datastore.DefaultMaxValueBytes,
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: DefaultRedisPrefix},
		},
		Metrics: ListenConfig{Addr: DefaultMetricsAddr},
		Control: ListenConfig{Addr: DefaultControlAddr},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.Code("CONFIG_INVALID").
			In("config").
			With("key", key).
			With("value", value).
			Errorf("%s: %s", key, msg)
	}

	switch c.Datastore.Backend {
	case datastore.BackendMemory, datastore.BackendPostgres, datastore.BackendRedis:
	default:
		return invalid("datastore.backend", c.Datastore.Backend, "must be memory, postgres or redis")
	}
	if c.Host.Tick <= 0 {
		return invalid("host.tick", c.Host.Tick, "must be positive")
	}
	if c.Plugins.HeartbeatInterval <= 0 {
		return invalid("plugins.heartbeat-interval", c.Plugins.HeartbeatInterval, "must be positive")
	}
	if c.Datastore.MaxEntries < 0 {
		return invalid("datastore.max-entries", c.Datastore.MaxEntries, "must not be negative")
	}
	if c.Datastore.MaxKeyBytes < 0 {
		return invalid("datastore.max-key-bytes", c.Datastore.MaxKeyBytes, "must not be negative")
	}
	if c.Datastore.MaxValueBytes < 0 {
		return invalid("datastore.max-value-bytes", c.Datastore.MaxValueBytes, "must not be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "must be 'json' or 'text'")
	}
	return nil
}

// DatastoreOptions converts the datastore section into backend options.
func (c *Config) DatastoreOptions() datastore.Config {
	return datastore.Config{
		Backend: c.Datastore.Backend,
		Limits: datastore.Limits{
			MaxEntries:    c.Datastore.MaxEntries,
			MaxKeyBytes:   c.Datastore.MaxKeyBytes,
			MaxValueBytes: c.Datastore.MaxValueBytes,
		},
		PostgresURL: c.Datastore.Postgres.URL,
		RedisAddr:   c.Datastore.Redis.Addr,
		RedisPrefix: c.Datastore.Redis.Prefix,
	}
}
