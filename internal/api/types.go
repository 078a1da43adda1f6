package api

import (
	"github.com/samcharles93/nrt/internal/scenario"
	"github.com/samcharles93/nrt/internal/stats"
)

type StatsResponse struct {
	Scope   string `json:"scope"`
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
	stats.Stats
}

type StreamsResponse struct {
	Mode    string   `json:"mode"`
	Streams []string `json:"streams"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

type ScenarioResult struct {
	Name  string      `json:"name"`
	Desc  string      `json:"description"`
	OK    bool        `json:"ok"`
	Delta stats.Stats `json:"delta"`
	Error string      `json:"error,omitempty"`
}

type SelftestResponse struct {
	OK      bool             `json:"ok"`
	Results []ScenarioResult `json:"results"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Param   string `json:"param,omitempty"`
}

func scenarioResults(rs []scenario.Result) SelftestResponse {
	out := SelftestResponse{OK: true, Results: make([]ScenarioResult, 0, len(rs))}
	for _, r := range rs {
		item := ScenarioResult{Name: r.Name, Desc: r.Desc, OK: r.OK(), Delta: r.Delta}
		if r.Err != nil {
			item.Error = r.Err.Error()
			out.OK = false
		}
		out.Results = append(out.Results, item)
	}
	return out
}
