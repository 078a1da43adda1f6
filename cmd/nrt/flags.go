package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nrt/internal/device"
)

var (
	configFile    string
	allocatorName string
	capacity      int64
	mmapThreshold int64
	cacheLimit    int64
	deviceID      int64
	statsMode     string
	nrtEnabled    bool
	logLevel      string
	logFormat     string
	debug         bool
)

func runtimeFlags() []cli.Flag {
	def := device.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/nrt/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "allocator",
			Aliases:     []string{"a"},
			Usage:       "device allocator (auto, host, cuda)",
			Value:       device.Auto,
			Destination: &allocatorName,
		},
		&cli.Int64Flag{
			Name:        "capacity",
			Usage:       "host pool capacity in bytes (0 = unlimited)",
			Destination: &capacity,
		},
		&cli.Int64Flag{
			Name:        "mmap-threshold",
			Usage:       "host pool allocations of at least this many bytes are mmapped",
			Value:       def.MmapThreshold,
			Destination: &mmapThreshold,
		},
		&cli.Int64Flag{
			Name:        "stream-cache",
			Usage:       "freed blocks kept per stream for reuse",
			Value:       int64(def.StreamCacheLimit),
			Destination: &cacheLimit,
		},
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "CUDA device ordinal",
			Destination: &deviceID,
		},
		&cli.StringFlag{
			Name:        "stats-mode",
			Usage:       "statistics scope (global, per-stream)",
			Value:       "per-stream",
			Destination: &statsMode,
		},
		&cli.BoolFlag{
			Name:        "nrt",
			Usage:       "route kernel allocations through the runtime",
			Value:       true,
			Destination: &nrtEnabled,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
