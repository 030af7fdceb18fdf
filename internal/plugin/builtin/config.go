// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtin

import (
	"errors"
	"io/fs"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// ConfigName is the config plugin's name.
const ConfigName = "config"

// ConfigLoadedEvent is published once the config file has been read.
const ConfigLoadedEvent = "configLoaded"

// ConfigKeyPrefix prefixes every data store key written by the config plugin.
const ConfigKeyPrefix = "config."

// DefaultConfigMessage is announced when the file has no message key.
const DefaultConfigMessage = "default"

// Config loads a dotenv-style key=value file into the shared data store.
type Config struct {
	path string
}

// NewConfig creates the config plugin reading path. An empty path or a
// missing file leaves the defaults in place.
func NewConfig(path string) *Config { return &Config{path: path} }

// Info implements pluginapi.Plugin.
func (*Config) Info() pluginapi.Descriptor {
	return descriptor(ConfigName, pluginapi.PriorityFirst)
}

// Init reads the file, stores every entry and announces the message.
func (c *Config) Init(host pluginapi.Host) error {
	values, err := readConfigFile(c.path)
	if err != nil {
		return err
	}

	message := DefaultConfigMessage
	for _, kv := range values {
		if err := host.SetData(ConfigKeyPrefix+kv[0], kv[1]); err != nil {
			return oops.In("builtin").With("plugin", ConfigName).With("key", kv[0]).
				Wrapf(err, "store config value")
		}
		if kv[0] == "message" {
			message = kv[1]
		}
	}

	host.SendEvent(ConfigLoadedEvent, "Config message: "+message)
	return nil
}

// Shutdown implements pluginapi.Plugin.
func (*Config) Shutdown() {}

// readConfigFile returns the file's key/value pairs ordered by key. The
// file uses dotenv syntax: '#' comments, optional quoting and trimmed
// values. Dotted keys stay flat.
func readConfigFile(path string) ([][2]string, error) {
	if path == "" {
		return nil, nil
	}
	k := koanf.New(".")
	err := k.Load(file.Provider(path), dotenv.Parser())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("builtin").Code("CONFIG_INVALID").With("path", path).
			Wrapf(err, "load config file")
	}

	keys := k.Keys()
	out := make([][2]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, [2]string{key, k.String(key)})
	}
	return out, nil
}
