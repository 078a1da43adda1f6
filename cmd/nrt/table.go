package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/samcharles93/nrt/internal/scenario"
	"github.com/samcharles93/nrt/internal/stats"
)

type scopeStats struct {
	Scope string `json:"scope"`
	stats.Stats
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
		Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
	})))
}

func renderStats(w io.Writer, rows []scopeStats) error {
	table := newTable(w)
	table.Header([]string{"SCOPE", "ALLOC", "FREE", "MI_ALLOC", "MI_FREE", "LIVE"})
	for _, r := range rows {
		if err := table.Append([]string{
			r.Scope,
			strconv.FormatUint(r.Alloc, 10),
			strconv.FormatUint(r.Free, 10),
			strconv.FormatUint(r.MIAlloc, 10),
			strconv.FormatUint(r.MIFree, 10),
			strconv.FormatUint(r.Live(), 10),
		}); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}

func renderResults(w io.Writer, results []scenario.Result) error {
	table := newTable(w)
	table.Header([]string{"SCENARIO", "ALLOC", "FREE", "RESULT"})
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		if err := table.Append([]string{
			r.Name,
			strconv.FormatUint(r.Delta.Alloc, 10),
			strconv.FormatUint(r.Delta.Free, 10),
			status,
		}); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}
