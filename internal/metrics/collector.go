// Package metrics exports allocation statistics in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/samcharles93/nrt/internal/stats"
)

const globalScope = "global"

var (
	allocDesc = prometheus.NewDesc(
		"nrt_allocations_total",
		"Payload allocations made through the runtime.",
		[]string{"stream"}, nil,
	)
	freeDesc = prometheus.NewDesc(
		"nrt_frees_total",
		"Payload frees made through the runtime.",
		[]string{"stream"}, nil,
	)
	miAllocDesc = prometheus.NewDesc(
		"nrt_meminfo_allocations_total",
		"MemInfo control blocks created.",
		[]string{"stream"}, nil,
	)
	miFreeDesc = prometheus.NewDesc(
		"nrt_meminfo_frees_total",
		"MemInfo control blocks destroyed.",
		[]string{"stream"}, nil,
	)
	enabledDesc = prometheus.NewDesc(
		"nrt_stats_enabled",
		"Whether allocation statistics are being recorded.",
		nil, nil,
	)
)

// Collector reads a stats.Registry at scrape time.
type Collector struct {
	reg *stats.Registry
}

func NewCollector(reg *stats.Registry) *Collector {
	return &Collector{reg: reg}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- allocDesc
	ch <- freeDesc
	ch <- miAllocDesc
	ch <- miFreeDesc
	ch <- enabledDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	emit(ch, globalScope, c.reg.Snapshot())
	if c.reg.Mode() == stats.PerStream {
		for _, id := range c.reg.Streams() {
			emit(ch, id.String(), c.reg.StreamSnapshot(id))
		}
	}

	enabled := 0.0
	if c.reg.Enabled() {
		enabled = 1
	}
	ch <- prometheus.MustNewConstMetric(enabledDesc, prometheus.GaugeValue, enabled)
}

func emit(ch chan<- prometheus.Metric, scope string, s stats.Stats) {
	ch <- prometheus.MustNewConstMetric(allocDesc, prometheus.CounterValue, float64(s.Alloc), scope)
	ch <- prometheus.MustNewConstMetric(freeDesc, prometheus.CounterValue, float64(s.Free), scope)
	ch <- prometheus.MustNewConstMetric(miAllocDesc, prometheus.CounterValue, float64(s.MIAlloc), scope)
	ch <- prometheus.MustNewConstMetric(miFreeDesc, prometheus.CounterValue, float64(s.MIFree), scope)
}

// NewRegistry returns a Prometheus registry holding a Collector for reg plus
// the Go runtime and process collectors.
func NewRegistry(reg *stats.Registry) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		NewCollector(reg),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var _ prometheus.Collector = (*Collector)(nil)
