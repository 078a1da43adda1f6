// Package api serves allocation statistics and runtime toggles over HTTP.
package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/nrt/internal/logger"
	"github.com/samcharles93/nrt/internal/metrics"
	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/query"
	"github.com/samcharles93/nrt/internal/scenario"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

type Server struct {
	host    *query.Host
	metrics http.Handler
	log     logger.Logger
}

func NewServer(host *query.Host, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	reg := metrics.NewRegistry(host.Runtime().Stats())
	return &Server{
		host:    host,
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		log:     log.With("component", "api"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/stats", s.handleGlobalStats)
	e.GET("/v1/stats/streams", s.handleListStreams)
	e.GET("/v1/stats/enabled", s.handleGetStatsEnabled)
	e.PUT("/v1/stats/enabled", s.handleSetStatsEnabled)
	e.GET("/v1/stats/:stream", s.handleStreamStats)

	e.GET("/v1/nrt/enabled", s.handleGetNRTEnabled)
	e.PUT("/v1/nrt/enabled", s.handleSetNRTEnabled)

	e.POST("/v1/selftest", s.handleSelftest)

	e.GET("/metrics", echo.WrapHandler(s.metrics))
}

func (s *Server) handleGlobalStats(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, s.statsResponse("global", s.host.AllocationStats(nil)))
}

func (s *Server) handleStreamStats(c *echo.Context) error {
	id, err := stream.Parse(c.Param("stream"))
	if err != nil {
		return writeBadRequest(c, err.Error(), "stream")
	}
	snap := s.host.Runtime().Stats().StreamSnapshot(id)
	return writeJSON(c, http.StatusOK, s.statsResponse(id.String(), snap))
}

func (s *Server) handleListStreams(c *echo.Context) error {
	reg := s.host.Runtime().Stats()
	ids := reg.Streams()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	sort.Strings(names)
	return writeJSON(c, http.StatusOK, StreamsResponse{Mode: reg.Mode().String(), Streams: names})
}

func (s *Server) handleGetStatsEnabled(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, ToggleResponse{Enabled: s.host.StatsEnabled()})
}

func (s *Server) handleSetStatsEnabled(c *echo.Context) error {
	on, err := decodeToggle(c)
	if err != nil {
		return writeBadRequest(c, err.Error(), "enabled")
	}
	s.host.SetStatsEnabled(on)
	s.log.Info("statistics toggled", "enabled", on)
	return writeJSON(c, http.StatusOK, ToggleResponse{Enabled: s.host.StatsEnabled()})
}

func (s *Server) handleGetNRTEnabled(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, ToggleResponse{Enabled: s.host.NRTEnabled()})
}

func (s *Server) handleSetNRTEnabled(c *echo.Context) error {
	on, err := decodeToggle(c)
	if err != nil {
		return writeBadRequest(c, err.Error(), "enabled")
	}
	s.host.SetNRTEnabled(on)
	return writeJSON(c, http.StatusOK, ToggleResponse{Enabled: s.host.NRTEnabled()})
}

// handleSelftest runs the scenarios on a private per-stream runtime sharing
// the server's allocator, so concurrent requests and other traffic never
// leak into a scenario's delta.
func (s *Server) handleSelftest(c *echo.Context) error {
	rt := nrt.New(s.host.Runtime().Allocator(), stats.NewRegistry(stats.PerStream), nrt.WithLogger(s.log))
	st := stream.New("selftest")
	defer func() {
		if err := st.Close(); err != nil {
			s.log.Warn("close selftest stream", "err", err)
		}
		if err := rt.ReleaseStream(st.ID()); err != nil {
			s.log.Warn("release selftest stream", "err", err)
		}
	}()
	resp := scenarioResults(scenario.RunAll(query.New(rt), st))
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusInternalServerError
		s.log.Error("selftest failed", "stream", st.ID().String())
	}
	return writeJSON(c, status, resp)
}

func (s *Server) statsResponse(scope string, snap stats.Stats) StatsResponse {
	return StatsResponse{
		Scope:   scope,
		Mode:    s.host.Runtime().Stats().Mode().String(),
		Enabled: s.host.StatsEnabled(),
		Stats:   snap,
	}
}

func decodeToggle(c *echo.Context) (bool, error) {
	req, err := decodeJSON[ToggleRequest](c.Request().Body)
	if err != nil {
		return false, err
	}
	if req.Enabled == nil {
		return false, newInvalidRequest("missing field \"enabled\"")
	}
	return *req.Enabled, nil
}
