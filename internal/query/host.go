// Package query is the host-side view of the runtime used by test harnesses:
// allocation statistics, the statistics toggle and the NRT routing toggle.
package query

import (
	"fmt"

	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

type Host struct {
	rt *nrt.Runtime
}

func New(rt *nrt.Runtime) *Host {
	return &Host{rt: rt}
}

func (h *Host) Runtime() *nrt.Runtime {
	return h.rt
}

// AllocationStats returns the counters for s, or the global counters when s
// is nil.
func (h *Host) AllocationStats(s *stream.Stream) stats.Stats {
	if s == nil {
		return h.rt.Stats().Snapshot()
	}
	return h.rt.Stats().StreamSnapshot(s.ID())
}

func (h *Host) SetStatsEnabled(on bool) {
	if on {
		h.rt.Stats().Enable()
	} else {
		h.rt.Stats().Disable()
	}
}

func (h *Host) StatsEnabled() bool {
	return h.rt.Stats().Enabled()
}

func (h *Host) SetNRTEnabled(on bool) {
	h.rt.SetNRTEnabled(on)
}

func (h *Host) NRTEnabled() bool {
	return h.rt.NRTEnabled()
}

// NRTRouted reports whether kernels currently allocate through the runtime,
// counting ForceNRT overrides.
func (h *Host) NRTRouted() bool {
	return h.rt.Routed()
}

// ForceNRT routes kernel allocations through the runtime until restore is
// called. The enabled setting is left alone, so overlapping overrides never
// undo each other.
func (h *Host) ForceNRT() (restore func()) {
	return h.rt.ForceNRT()
}

// Delta snapshots the scope of s, runs fn, waits for s to drain and returns
// the change. A nil stream measures the global scope and drains the default
// stream.
func (h *Host) Delta(s *stream.Stream, fn func() error) (stats.Stats, error) {
	before := h.AllocationStats(s)
	if err := fn(); err != nil {
		return stats.Stats{}, err
	}
	sync := s
	if sync == nil {
		sync = stream.Default()
	}
	if err := sync.Synchronize(); err != nil {
		return stats.Stats{}, fmt.Errorf("synchronize stream %s: %w", sync.ID(), err)
	}
	return h.AllocationStats(s).Sub(before), nil
}
