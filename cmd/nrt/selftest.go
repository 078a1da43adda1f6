package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nrt/internal/logger"
	"github.com/samcharles93/nrt/internal/scenario"
	"github.com/samcharles93/nrt/internal/stream"
)

var errSelftestFailed = errors.New("selftest failed")

func selftestCmd() *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Run the refcount regression scenarios and check their allocation deltas",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			host, err := buildHost(ctx)
			if err != nil {
				return err
			}
			s := stream.New("selftest")
			defer func() {
				_ = s.Close()
				if err := host.Runtime().ReleaseStream(s.ID()); err != nil {
					log.Warn("release stream", "err", err)
				}
			}()

			results := scenario.RunAll(host, s)
			if err := renderResults(cmd.Root().Writer, results); err != nil {
				return err
			}

			var failed int
			for _, r := range results {
				if !r.OK() {
					failed++
					log.Error("scenario failed", "scenario", r.Name, "delta", r.Delta.String(), "err", r.Err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d scenarios", errSelftestFailed, failed, len(results))
			}
			log.Info("selftest passed", "scenarios", len(results))
			return nil
		},
	}
}
