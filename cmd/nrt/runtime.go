package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/logger"
	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/query"
	"github.com/samcharles93/nrt/internal/stats"
)

var loadedConfig Config

// setup loads the config file, resolves flag values against it and installs
// the logger on the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	loadedConfig = cfg
	applyConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Setup(os.Stderr, level, logFormat)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func deviceConfig() device.Config {
	return device.Config{
		Capacity:         capacity,
		MmapThreshold:    mmapThreshold,
		StreamCacheLimit: int(cacheLimit),
		DeviceID:         int(deviceID),
	}
}

// buildHost assembles the allocator, statistics registry and runtime from the
// resolved flags.
func buildHost(ctx context.Context) (*query.Host, error) {
	log := logger.FromContext(ctx)

	mode, err := stats.ParseMode(statsMode)
	if err != nil {
		return nil, err
	}
	alloc, err := device.New(allocatorName, deviceConfig())
	if err != nil {
		return nil, fmt.Errorf("allocator %q: %w", allocatorName, err)
	}
	rt := nrt.New(alloc, stats.NewRegistry(mode),
		nrt.WithLogger(log),
		nrt.WithNRTEnabled(nrtEnabled),
	)
	log.Debug("runtime ready",
		"allocator", alloc.Name(),
		"stats_mode", mode.String(),
		"nrt", nrtEnabled,
		"available", device.Available(),
	)
	return query.New(rt), nil
}
