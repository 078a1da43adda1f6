package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the nrt configuration file (~/.config/nrt/config.yaml). Pointer
// fields distinguish "not set" from zero values.
type Config struct {
	Allocator        string `yaml:"allocator"`
	Capacity         *int64 `yaml:"capacity"`
	MmapThreshold    *int64 `yaml:"mmap_threshold"`
	StreamCacheLimit *int64 `yaml:"stream_cache"`
	Device           *int64 `yaml:"device"`

	StatsMode  string `yaml:"stats_mode"`
	NRTEnabled *bool  `yaml:"nrt_enabled"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nrt", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyConfig applies config file values to the global flag variables when
// the corresponding flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config) {
	if cfg.Allocator != "" && !c.IsSet("allocator") {
		allocatorName = cfg.Allocator
	}
	if cfg.Capacity != nil && !c.IsSet("capacity") {
		capacity = *cfg.Capacity
	}
	if cfg.MmapThreshold != nil && !c.IsSet("mmap-threshold") {
		mmapThreshold = *cfg.MmapThreshold
	}
	if cfg.StreamCacheLimit != nil && !c.IsSet("stream-cache") {
		cacheLimit = *cfg.StreamCacheLimit
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceID = *cfg.Device
	}
	if cfg.StatsMode != "" && !c.IsSet("stats-mode") {
		statsMode = cfg.StatsMode
	}
	if cfg.NRTEnabled != nil && !c.IsSet("nrt") {
		nrtEnabled = *cfg.NRTEnabled
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
