// Package nrt is the runtime memory manager used by generated kernel code.
//
// Kernels allocate array payloads through a Runtime, which wraps every
// payload in a reference-counted MemInfo. The lowering pass emits Incref and
// Decref calls around aliases and scope exits; the Decref that drops the last
// reference frees the payload immediately. There is no collector and no table
// of live objects.
package nrt

import (
	"sync"
	"sync/atomic"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/logger"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

type Runtime struct {
	alloc   device.Allocator
	stats   *stats.Registry
	log     logger.Logger
	enabled atomic.Bool
	forced  atomic.Int32
}

type Option func(*Runtime)

func WithLogger(log logger.Logger) Option {
	return func(rt *Runtime) {
		rt.log = log
	}
}

// WithNRTEnabled sets whether kernels route their allocations through the
// runtime. The default is true.
func WithNRTEnabled(on bool) Option {
	return func(rt *Runtime) {
		rt.enabled.Store(on)
	}
}

// New builds a runtime on top of alloc, recording events in reg.
func New(alloc device.Allocator, reg *stats.Registry, opts ...Option) *Runtime {
	rt := &Runtime{
		alloc: alloc,
		stats: reg,
		log:   logger.Discard(),
	}
	rt.enabled.Store(true)
	for _, opt := range opts {
		opt(rt)
	}
	rt.log = rt.log.With("component", "nrt", "allocator", alloc.Name())
	return rt
}

func (rt *Runtime) Allocator() device.Allocator {
	return rt.alloc
}

func (rt *Runtime) Stats() *stats.Registry {
	return rt.stats
}

func (rt *Runtime) NRTEnabled() bool {
	return rt.enabled.Load()
}

// Routed reports whether kernel allocations go through the runtime: routing
// is enabled or at least one ForceNRT override is held.
func (rt *Runtime) Routed() bool {
	return rt.enabled.Load() || rt.forced.Load() > 0
}

// ForceNRT routes kernel allocations through the runtime until the returned
// func is called, without touching the enabled setting. Overrides nest and
// may overlap; restore is idempotent.
func (rt *Runtime) ForceNRT() (restore func()) {
	rt.forced.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { rt.forced.Add(-1) })
	}
}

// SetNRTEnabled switches kernel routing and returns the previous value.
func (rt *Runtime) SetNRTEnabled(on bool) bool {
	prev := rt.enabled.Swap(on)
	if prev != on {
		rt.log.Info("nrt routing changed", "enabled", on)
	}
	return prev
}

// ReleaseStream drops allocator state kept for s. Call it after s is closed
// and every payload allocated on it has been freed.
func (rt *Runtime) ReleaseStream(s stream.ID) error {
	if r, ok := rt.alloc.(device.StreamReleaser); ok {
		return r.ReleaseStream(s)
	}
	return nil
}

// Alloc allocates size bytes with the default alignment on stream s.
func (rt *Runtime) Alloc(s stream.ID, size int64) (*MemInfo, error) {
	return rt.AllocAligned(s, size, device.DefaultAlignment)
}

// AllocAligned allocates a payload and wraps it in a MemInfo holding one
// reference. On failure nothing is recorded and no state is left behind.
func (rt *Runtime) AllocAligned(s stream.ID, size int64, align int) (*MemInfo, error) {
	return rt.allocate(s, size, align, rt.release)
}

// AllocWithDtor is AllocAligned with a destructor that runs before the
// payload and control block are released.
func (rt *Runtime) AllocWithDtor(s stream.ID, size int64, align int, dtor Dtor) (*MemInfo, error) {
	if dtor == nil {
		return rt.AllocAligned(s, size, align)
	}
	return rt.allocate(s, size, align, func(mi *MemInfo) {
		dtor(mi)
		rt.release(mi)
	})
}

func (rt *Runtime) allocate(s stream.ID, size int64, align int, dtor Dtor) (*MemInfo, error) {
	buf, err := rt.alloc.Alloc(s, size, align)
	if err != nil {
		rt.log.Warn("allocation failed", "stream", s.String(), "size", size, "align", align, "err", err)
		return nil, &AllocationError{Size: size, Align: align, Stream: s, Err: err}
	}

	mi := newControlBlock()
	mi.data = buf
	mi.size = size
	mi.dtor = dtor
	mi.stream = s
	mi.rt = rt
	mi.refct.Store(1)

	rt.stats.RecordAlloc(s)
	return mi, nil
}

// release is the standard destructor: free the payload on its stream, then
// the control block.
func (rt *Runtime) release(mi *MemInfo) {
	s := mi.stream
	buf := mi.data
	if err := rt.alloc.Free(s, buf); err != nil {
		rt.log.Warn("payload free failed", "stream", s.String(), "size", buf.Size(), "err", err)
	}
	rt.stats.RecordFree(s)
	freeControlBlock(mi)
}
