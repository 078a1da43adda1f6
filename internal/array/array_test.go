package array

import (
	"errors"
	"testing"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

func newAllocator(t *testing.T) (Allocator, *nrt.Runtime) {
	t.Helper()
	rt := nrt.New(device.NewHostPool(device.Config{}), stats.NewRegistry(stats.Global))
	return On(rt, stream.DefaultID), rt
}

func TestEmptyLayout(t *testing.T) {
	t.Parallel()

	al, rt := newAllocator(t)
	a, err := Empty(al, Float64, 3, 4)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	defer a.Release()

	if got := a.Strides(); got[0] != 32 || got[1] != 8 {
		t.Fatalf("strides = %v", got)
	}
	if a.MemInfo().Size() != 96 || a.Size() != 12 || a.Len() != 3 || a.NDim() != 2 {
		t.Fatalf("unexpected layout size=%d elems=%d", a.MemInfo().Size(), a.Size())
	}
	if lo, hi := a.Extent(); lo != 0 || hi != 96 {
		t.Fatalf("extent = [%d,%d)", lo, hi)
	}
	if got := rt.Stats().Snapshot(); got.Alloc != 1 {
		t.Fatalf("expected one allocation, got %v", got)
	}
}

func TestViewsShareTheBuffer(t *testing.T) {
	t.Parallel()

	al, rt := newAllocator(t)
	x, err := Empty(al, Int64, 10)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	x.SetInt64(1, 5)

	y := x.Slice(5, 10)
	if x.MemInfo().Refcount() != 2 {
		t.Fatalf("slice must add a reference, refcount %d", x.MemInfo().Refcount())
	}
	x.Release()
	if got := rt.Stats().Snapshot(); got.Free != 0 {
		t.Fatal("buffer freed while a view is alive")
	}
	if y.Len() != 5 || y.Int64At(0) != 1 {
		t.Fatalf("slice view len=%d y[0]=%d", y.Len(), y.Int64At(0))
	}
	y.Release()
	y.Release()
	if got := rt.Stats().Snapshot(); got != (stats.Stats{Alloc: 1, Free: 1, MIAlloc: 1, MIFree: 1}) {
		t.Fatalf("unexpected stats %v", got)
	}
}

func TestIndexAndElementAccess(t *testing.T) {
	t.Parallel()

	al, _ := newAllocator(t)
	x, err := Empty(al, Float64, 4, 2)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	defer x.Release()

	for i := range 4 {
		row := x.Index(i)
		row.SetFloat64(float64(i), 0)
		row.SetFloat64(float64(-i), 1)
		row.Release()
	}
	if x.Float64At(3, 0) != 3 || x.Float64At(2, 1) != -2 {
		t.Fatalf("writes through row views not visible: %v %v", x.Float64At(3, 0), x.Float64At(2, 1))
	}
	if x.MemInfo().Refcount() != 1 {
		t.Fatalf("row views leaked references, refcount %d", x.MemInfo().Refcount())
	}

	scalar := x.Index(1).Index(1)
	defer scalar.Release()
	if scalar.NDim() != 0 || scalar.Float64At() != -1 {
		t.Fatalf("0-d view ndim=%d value=%v", scalar.NDim(), scalar.Float64At())
	}
}

func TestRetainAndEmptyLike(t *testing.T) {
	t.Parallel()

	al, rt := newAllocator(t)
	x, err := Empty(al, Int32, 5, 5)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	alias := x.Retain()
	like, err := EmptyLike(al, x)
	if err != nil {
		t.Fatalf("EmptyLike: %v", err)
	}
	if like.MemInfo() == x.MemInfo() || like.MemInfo().Size() != 100 {
		t.Fatalf("EmptyLike must allocate a new 100 byte buffer")
	}
	x.Release()
	alias.Release()
	like.Release()
	if got := rt.Stats().Snapshot(); !got.Balanced() || got.Alloc != 2 {
		t.Fatalf("unexpected stats %v", got)
	}
}

func TestInvalidShapes(t *testing.T) {
	t.Parallel()

	al, rt := newAllocator(t)
	if _, err := Empty(al, Float64, 2, -1); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
	if _, err := Empty(al, DType(0), 2); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
	if got := rt.Stats().Snapshot(); got != (stats.Stats{}) {
		t.Fatalf("rejected shapes must not allocate, got %v", got)
	}
}

func TestBoundsPanics(t *testing.T) {
	t.Parallel()

	al, _ := newAllocator(t)
	x, err := Empty(al, Float64, 3)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	defer x.Release()

	for name, fn := range map[string]func(){
		"index":  func() { x.Index(3) },
		"slice":  func() { x.Slice(2, 4) },
		"dtype":  func() { x.Int64At(0) },
		"arity":  func() { x.Float64At(0, 0) },
		"scalar": func() { x.Index(0).Index(0) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", name)
				}
			}()
			fn()
		}()
	}
}
