// Package stats collects allocation statistics for the runtime.
//
// Four monotonic counters are kept per scope: payload allocations, payload
// frees, MemInfo creations and MemInfo destructions. Every event is recorded
// in the global scope; in PerStream mode it is also recorded in the scope of
// the stream it happened on.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/nrt/internal/stream"
)

// Stats is a point-in-time snapshot of one scope's counters.
type Stats struct {
	Alloc   uint64 `json:"alloc"`
	Free    uint64 `json:"free"`
	MIAlloc uint64 `json:"mi_alloc"`
	MIFree  uint64 `json:"mi_free"`
}

// Sub returns the counter deltas from prev to s.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Alloc:   s.Alloc - prev.Alloc,
		Free:    s.Free - prev.Free,
		MIAlloc: s.MIAlloc - prev.MIAlloc,
		MIFree:  s.MIFree - prev.MIFree,
	}
}

// Balanced reports whether every allocation has a matching free.
func (s Stats) Balanced() bool {
	return s.Alloc == s.Free && s.MIAlloc == s.MIFree
}

// Live returns the number of MemInfos created and not yet destroyed. It is
// zero when more destructions than creations were recorded, which happens
// when statistics were disabled while some of those MemInfos were created.
func (s Stats) Live() uint64 {
	if s.MIFree > s.MIAlloc {
		return 0
	}
	return s.MIAlloc - s.MIFree
}

func (s Stats) String() string {
	return fmt.Sprintf("alloc=%d free=%d mi_alloc=%d mi_free=%d", s.Alloc, s.Free, s.MIAlloc, s.MIFree)
}

// Counters is one scope's counter set. Each counter sits on its own cache
// line so allocating and freeing threads do not contend on the same line.
type Counters struct {
	alloc   paddedCounter
	free    paddedCounter
	miAlloc paddedCounter
	miFree  paddedCounter
}

type paddedCounter struct {
	n atomic.Uint64
	_ [56]byte
}

// Snapshot loads the free side first. While statistics stay enabled a
// concurrent snapshot never shows more frees than allocations.
func (c *Counters) Snapshot() Stats {
	var s Stats
	s.MIFree = c.miFree.n.Load()
	s.Free = c.free.n.Load()
	s.MIAlloc = c.miAlloc.n.Load()
	s.Alloc = c.alloc.n.Load()
	return s
}

// Mode selects how stream-scoped queries are answered.
type Mode uint8

const (
	// Global keeps only the aggregate counters; a stream-scoped query
	// returns the aggregate.
	Global Mode = iota
	// PerStream additionally keeps one exclusive counter set per stream.
	PerStream
)

func (m Mode) String() string {
	switch m {
	case Global:
		return "global"
	case PerStream:
		return "per-stream"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "global":
		return Global, nil
	case "per-stream", "per_stream", "stream":
		return PerStream, nil
	default:
		return Global, fmt.Errorf("unknown stats mode %q (expected global or per-stream)", s)
	}
}

// Registry owns the global counters and the per-stream counter sets. Tests
// isolate themselves by constructing their own Registry; counters are never
// reset.
type Registry struct {
	mode    Mode
	enabled atomic.Bool
	global  Counters
	streams sync.Map // stream.ID -> *Counters
}

// NewRegistry returns an enabled registry.
func NewRegistry(mode Mode) *Registry {
	r := &Registry{mode: mode}
	r.enabled.Store(true)
	return r
}

func (r *Registry) Mode() Mode {
	return r.mode
}

func (r *Registry) Enable() {
	r.enabled.Store(true)
}

func (r *Registry) Disable() {
	r.enabled.Store(false)
}

func (r *Registry) Enabled() bool {
	return r.enabled.Load()
}

// RecordAlloc records a payload allocation wrapped in a new MemInfo.
func (r *Registry) RecordAlloc(s stream.ID) {
	if !r.enabled.Load() {
		return
	}
	r.global.alloc.n.Add(1)
	r.global.miAlloc.n.Add(1)
	if c := r.scoped(s); c != nil {
		c.alloc.n.Add(1)
		c.miAlloc.n.Add(1)
	}
}

// RecordFree records a payload free together with its MemInfo destruction.
func (r *Registry) RecordFree(s stream.ID) {
	if !r.enabled.Load() {
		return
	}
	r.global.free.n.Add(1)
	r.global.miFree.n.Add(1)
	if c := r.scoped(s); c != nil {
		c.free.n.Add(1)
		c.miFree.n.Add(1)
	}
}

// Snapshot returns the global counters.
func (r *Registry) Snapshot() Stats {
	return r.global.Snapshot()
}

// StreamSnapshot returns the counters for stream s. A stream that never
// recorded an event reports zeros.
func (r *Registry) StreamSnapshot(s stream.ID) Stats {
	if r.mode != PerStream {
		return r.global.Snapshot()
	}
	v, ok := r.streams.Load(s)
	if !ok {
		return Stats{}
	}
	return v.(*Counters).Snapshot()
}

// Streams lists the streams with a counter set.
func (r *Registry) Streams() []stream.ID {
	var ids []stream.ID
	r.streams.Range(func(k, _ any) bool {
		ids = append(ids, k.(stream.ID))
		return true
	})
	return ids
}

func (r *Registry) scoped(s stream.ID) *Counters {
	if r.mode != PerStream {
		return nil
	}
	if v, ok := r.streams.Load(s); ok {
		return v.(*Counters)
	}
	v, _ := r.streams.LoadOrStore(s, &Counters{})
	return v.(*Counters)
}
