package nrt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

func newRuntime(t *testing.T, mode stats.Mode, cfg device.Config) (*Runtime, *device.HostPool) {
	t.Helper()
	pool := device.NewHostPool(cfg)
	return New(pool, stats.NewRegistry(mode)), pool
}

func TestAllocDecrefBalances(t *testing.T) {
	t.Parallel()

	rt, pool := newRuntime(t, stats.Global, device.Config{})
	mi, err := rt.Alloc(stream.DefaultID, 80)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if mi.Refcount() != 1 {
		t.Fatalf("new MemInfo refcount = %d, want 1", mi.Refcount())
	}
	if mi.Size() != 80 || len(mi.Bytes()) != 80 || mi.Data() == nil {
		t.Fatalf("unexpected payload: size=%d bytes=%d", mi.Size(), len(mi.Bytes()))
	}
	if got := rt.Stats().Snapshot(); got != (stats.Stats{Alloc: 1, MIAlloc: 1}) {
		t.Fatalf("after alloc: %v", got)
	}

	Decref(mi)
	if got := rt.Stats().Snapshot(); got != (stats.Stats{Alloc: 1, Free: 1, MIAlloc: 1, MIFree: 1}) {
		t.Fatalf("after decref: %v", got)
	}
	if pool.InUse() != 0 {
		t.Fatalf("payload not returned to the pool, %d bytes in use", pool.InUse())
	}
}

func TestIncrefKeepsPayloadAlive(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, stats.Global, device.Config{})
	mi, err := rt.Alloc(stream.DefaultID, 16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	Incref(mi)
	Incref(mi)
	Decref(mi)
	Decref(mi)
	if mi.Refcount() != 1 {
		t.Fatalf("refcount = %d, want 1", mi.Refcount())
	}
	if got := rt.Stats().Snapshot(); got.MIFree != 0 || got.Free != 0 {
		t.Fatalf("payload freed while still referenced: %v", got)
	}
	Decref(mi)
	if got := rt.Stats().Snapshot(); !got.Balanced() {
		t.Fatalf("expected balanced stats, got %v", got)
	}
}

func TestCustomDtorRunsBeforeRelease(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, stats.Global, device.Config{})
	var calls int
	var seen int64
	mi, err := rt.AllocWithDtor(stream.DefaultID, 48, 16, func(mi *MemInfo) {
		calls++
		seen = mi.Size()
		if rt.Stats().Snapshot().Free != 0 {
			t.Error("payload released before custom destructor ran")
		}
	})
	if err != nil {
		t.Fatalf("AllocWithDtor: %v", err)
	}
	Decref(mi)
	if calls != 1 || seen != 48 {
		t.Fatalf("destructor calls=%d size=%d", calls, seen)
	}
	if got := rt.Stats().Snapshot(); !got.Balanced() || got.Alloc != 1 {
		t.Fatalf("unexpected stats %v", got)
	}
}

func TestConcurrentDecrefDestroysOnce(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, stats.Global, device.Config{})
	const holders = 64
	var dtors atomic.Int32
	mi, err := rt.AllocWithDtor(stream.DefaultID, 256, 0, func(*MemInfo) {
		dtors.Add(1)
	})
	if err != nil {
		t.Fatalf("AllocWithDtor: %v", err)
	}
	for range holders - 1 {
		Incref(mi)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range holders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			Decref(mi)
		}()
	}
	close(start)
	wg.Wait()

	if n := dtors.Load(); n != 1 {
		t.Fatalf("destructor ran %d times", n)
	}
	if got := rt.Stats().Snapshot(); got != (stats.Stats{Alloc: 1, Free: 1, MIAlloc: 1, MIFree: 1}) {
		t.Fatalf("unexpected stats %v", got)
	}
}

func TestConcurrentAllocations(t *testing.T) {
	t.Parallel()

	rt, pool := newRuntime(t, stats.PerStream, device.Config{StreamCacheLimit: 8})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := stream.New("worker")
			defer s.Close()
			for i := range 100 {
				mi, err := rt.Alloc(s.ID(), int64(8*(i%5+1)))
				if err != nil {
					t.Errorf("Alloc: %v", err)
					return
				}
				Incref(mi)
				Decref(mi)
				Decref(mi)
			}
			if got := rt.Stats().StreamSnapshot(s.ID()); got != (stats.Stats{Alloc: 100, Free: 100, MIAlloc: 100, MIFree: 100}) {
				t.Errorf("stream %s: %v", s.ID(), got)
			}
			if err := rt.ReleaseStream(s.ID()); err != nil {
				t.Errorf("ReleaseStream: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := rt.Stats().Snapshot(); got != (stats.Stats{Alloc: 800, Free: 800, MIAlloc: 800, MIFree: 800}) {
		t.Fatalf("global: %v", got)
	}
	if pool.InUse() != 0 {
		t.Fatalf("%d bytes still in use", pool.InUse())
	}
}

func TestAllocFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()

	rt, pool := newRuntime(t, stats.Global, device.Config{Capacity: 64})
	mi, err := rt.Alloc(stream.DefaultID, 128)
	if mi != nil {
		t.Fatal("expected nil MemInfo on failure")
	}
	if !errors.Is(err, ErrAllocationFailure) {
		t.Fatalf("expected ErrAllocationFailure, got %v", err)
	}
	if !errors.Is(err, device.ErrOutOfMemory) {
		t.Fatalf("expected wrapped ErrOutOfMemory, got %v", err)
	}
	var ae *AllocationError
	if !errors.As(err, &ae) || ae.Size != 128 || !ae.Stream.IsDefault() {
		t.Fatalf("unexpected error detail %#v", ae)
	}
	if got := rt.Stats().Snapshot(); got != (stats.Stats{}) {
		t.Fatalf("failed allocation was counted: %v", got)
	}
	if pool.InUse() != 0 {
		t.Fatalf("failed allocation leaked %d bytes", pool.InUse())
	}

	if _, err := rt.AllocAligned(stream.DefaultID, 8, 3); !errors.Is(err, device.ErrInvalidAlignment) {
		t.Fatalf("expected ErrInvalidAlignment, got %v", err)
	}
}

func TestNilHandleIsIgnored(t *testing.T) {
	t.Parallel()

	Incref(nil)
	Decref(nil)
}

func TestStatsDisabledStaysFlat(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, stats.Global, device.Config{})
	rt.Stats().Disable()
	for range 10 {
		mi, err := rt.Alloc(stream.DefaultID, 32)
		if err != nil {
			t.Fatalf("Alloc: %v", err)
		}
		Decref(mi)
	}
	if got := rt.Stats().Snapshot(); got != (stats.Stats{}) {
		t.Fatalf("disabled stats moved: %v", got)
	}
}

type failingFree struct {
	*device.HostPool
}

func (f failingFree) Free(stream.ID, device.Buffer) error {
	return errors.New("driver gone")
}

func TestFreeErrorStillDestroys(t *testing.T) {
	t.Parallel()

	rt := New(failingFree{device.NewHostPool(device.Config{})}, stats.NewRegistry(stats.Global))
	mi, err := rt.Alloc(stream.DefaultID, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	Decref(mi)
	if got := rt.Stats().Snapshot(); !got.Balanced() {
		t.Fatalf("expected destruction to be recorded, got %v", got)
	}
}

func TestSetNRTEnabled(t *testing.T) {
	t.Parallel()

	rt := New(device.NewHostPool(device.Config{}), stats.NewRegistry(stats.Global), WithNRTEnabled(false))
	if rt.NRTEnabled() {
		t.Fatal("expected routing disabled")
	}
	if prev := rt.SetNRTEnabled(true); prev {
		t.Fatal("expected previous value false")
	}
	if !rt.NRTEnabled() {
		t.Fatal("expected routing enabled")
	}
}

func TestForceNRTNests(t *testing.T) {
	t.Parallel()

	rt := New(device.NewHostPool(device.Config{}), stats.NewRegistry(stats.Global), WithNRTEnabled(false))
	outer := rt.ForceNRT()
	inner := rt.ForceNRT()
	outer()
	if !rt.Routed() {
		t.Fatal("inner override lost when the outer one was released")
	}
	inner()
	if rt.Routed() {
		t.Fatal("expected routing off once every override is released")
	}
	if rt.NRTEnabled() {
		t.Fatal("overrides must not change the enabled setting")
	}

	rt.SetNRTEnabled(true)
	if !rt.Routed() {
		t.Fatal("enabled setting must route allocations")
	}
}
