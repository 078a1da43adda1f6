package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nrt/internal/array"
	"github.com/samcharles93/nrt/internal/kernel"
	"github.com/samcharles93/nrt/internal/logger"
	"github.com/samcharles93/nrt/internal/query"
	"github.com/samcharles93/nrt/internal/stream"
)

type workload struct {
	streams    int
	blocks     int
	threads    int
	iterations int
	elems      int
}

type statsReport struct {
	Mode    string       `json:"mode"`
	Enabled bool         `json:"enabled"`
	Scopes  []scopeStats `json:"scopes"`
}

func statsCmd() *cli.Command {
	var (
		wl     workload
		asJSON bool
	)
	return &cli.Command{
		Name:  "stats",
		Usage: "Run a demo workload and print allocation statistics",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "streams", Usage: "streams to launch on", Value: 4, Destination: &wl.streams},
			&cli.IntFlag{Name: "blocks", Usage: "blocks per launch", Value: 4, Destination: &wl.blocks},
			&cli.IntFlag{Name: "threads", Usage: "threads per block", Value: 32, Destination: &wl.threads},
			&cli.IntFlag{Name: "iterations", Usage: "allocations per thread", Value: 8, Destination: &wl.iterations},
			&cli.IntFlag{Name: "elems", Usage: "float64 elements per allocation", Value: 64, Destination: &wl.elems},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			host, err := buildHost(ctx)
			if err != nil {
				return err
			}
			report, err := runWorkload(ctx, host, wl)
			if err != nil {
				return err
			}
			return writeReport(cmd.Root().Writer, report, asJSON)
		},
	}
}

func runWorkload(ctx context.Context, host *query.Host, wl workload) (statsReport, error) {
	log := logger.FromContext(ctx)
	rt := host.Runtime()

	streams := make([]*stream.Stream, wl.streams)
	for i := range streams {
		streams[i] = stream.New(fmt.Sprintf("demo-%d", i))
	}
	defer func() {
		for _, s := range streams {
			_ = s.Close()
			if err := rt.ReleaseStream(s.ID()); err != nil {
				log.Warn("release stream", "stream", s.Name(), "err", err)
			}
		}
	}()

	body := func(t *kernel.Thread) error {
		for range wl.iterations {
			a, err := array.Empty(t, array.Float64, wl.elems)
			if err != nil {
				return err
			}
			view := a.Slice(0, wl.elems/2)
			a.Release()
			if view.Len() > 0 {
				view.SetFloat64(float64(t.Global()), 0)
			}
			view.Release()
		}
		return nil
	}
	for _, s := range streams {
		if err := kernel.Launch(rt, s, kernel.D1(wl.blocks), kernel.D1(wl.threads), body); err != nil {
			return statsReport{}, err
		}
	}
	for _, s := range streams {
		if err := s.Synchronize(); err != nil {
			return statsReport{}, fmt.Errorf("stream %s: %w", s.Name(), err)
		}
		log.Debug("stream drained", "stream", s.ID().String(), "name", s.Name())
	}

	reg := rt.Stats()
	report := statsReport{
		Mode:    reg.Mode().String(),
		Enabled: reg.Enabled(),
		Scopes:  []scopeStats{{Scope: "global", Stats: host.AllocationStats(nil)}},
	}
	var per []scopeStats
	for _, s := range streams {
		per = append(per, scopeStats{Scope: s.Name(), Stats: host.AllocationStats(s)})
	}
	sort.Slice(per, func(i, j int) bool { return per[i].Scope < per[j].Scope })
	report.Scopes = append(report.Scopes, per...)
	return report, nil
}

func writeReport(w io.Writer, report statsReport, asJSON bool) error {
	if asJSON {
		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	_, _ = fmt.Fprintf(w, "stats mode: %s (enabled=%v)\n", report.Mode, report.Enabled)
	return renderStats(w, report.Scopes)
}
