// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the configuration shared by the stagekv binary and
// its commands.
package base

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/stagekv/pkg/storage/kvstore"
	"github.com/cockroachdb/stagekv/pkg/util/log"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"
)

// ByteSize is a size in bytes. It accepts human readable values such as
// "64MiB" in YAML and on the command line.
type ByteSize int64

// String implements pflag.Value.
func (b *ByteSize) String() string {
	return humanize.IBytes(uint64(*b))
}

// Set implements pflag.Value.
func (b *ByteSize) Set(s string) error {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", s)
	}
	*b = ByteSize(v)
	return nil
}

// Type implements pflag.Value.
func (b *ByteSize) Type() string {
	return "bytes"
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*b = ByteSize(n)
		return nil
	}
	return b.Set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// StoreConfig configures the base store.
type StoreConfig struct {
	Dir           string   `yaml:"dir"`
	InMemory      bool     `yaml:"in-memory"`
	Ordering      string   `yaml:"ordering"`
	CacheSize     ByteSize `yaml:"cache-size"`
	MaxBatchBytes ByteSize `yaml:"max-batch-bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity  int    `yaml:"verbosity"`
	Format     string `yaml:"format"`
	Redactable bool   `yaml:"redactable"`
}

// Config is the configuration of the stagekv binary.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file or flag
// overrides a setting.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Dir:           DefaultStoreDir,
			Ordering:      DefaultOrdering,
			CacheSize:     DefaultCacheSize,
			MaxBatchBytes: DefaultMaxBatchBytes,
		},
		Log: LogConfig{
			Format: log.FormatConsole,
		},
	}
}

// LoadConfig reads a YAML configuration file. Settings missing from the
// file keep their default values; unknown settings are an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "loading %s", path)
	}
	return cfg, nil
}

// ParseConfig parses YAML configuration on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, err := kvstore.OrderingByName(c.Store.Ordering); err != nil {
		return err
	}
	if !c.Store.InMemory && c.Store.Dir == "" {
		return errors.New("store directory required unless in-memory")
	}
	if c.Store.CacheSize < 0 || c.Store.MaxBatchBytes < 0 {
		return errors.New("sizes must not be negative")
	}
	switch c.Log.Format {
	case "", log.FormatConsole, log.FormatJSON:
	default:
		return errors.Newf("unknown log format %q", c.Log.Format)
	}
	if c.Log.Verbosity < 0 {
		return errors.Newf("invalid verbosity %d", c.Log.Verbosity)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
