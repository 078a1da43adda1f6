// Package kernel runs kernel bodies over a grid of goroutine threads.
//
// A launch is queued on a stream and executes when the stream's worker
// reaches it. Every thread of the grid runs the body concurrently; the first
// thread to fail cancels the rest and becomes the launch error, which the
// stream reports from Synchronize.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/stream"
)

var (
	ErrInvalidDims = errors.New("kernel: grid and block extents must be positive")
	ErrNRTDisabled = errors.New("kernel: runtime allocation requested with NRT disabled")
)

// Func is a kernel body executed once per thread.
type Func func(t *Thread) error

// Thread is the per-thread view of a running launch. Its allocation methods
// are bound to the launch stream.
type Thread struct {
	ThreadID

	ctx    context.Context
	rt     *nrt.Runtime
	stream stream.ID
}

func (t *Thread) Context() context.Context {
	return t.ctx
}

// Err reports why the launch was cancelled, or nil while it is running.
func (t *Thread) Err() error {
	return context.Cause(t.ctx)
}

func (t *Thread) Stream() stream.ID {
	return t.stream
}

func (t *Thread) Runtime() *nrt.Runtime {
	return t.rt
}

func (t *Thread) Alloc(size int64) (*nrt.MemInfo, error) {
	if !t.rt.Routed() {
		return nil, ErrNRTDisabled
	}
	return t.rt.Alloc(t.stream, size)
}

func (t *Thread) AllocAligned(size int64, align int) (*nrt.MemInfo, error) {
	if !t.rt.Routed() {
		return nil, ErrNRTDisabled
	}
	return t.rt.AllocAligned(t.stream, size, align)
}

func (t *Thread) Incref(mi *nrt.MemInfo) {
	nrt.Incref(mi)
}

func (t *Thread) Decref(mi *nrt.MemInfo) {
	nrt.Decref(mi)
}

func (t *Thread) Size(mi *nrt.MemInfo) int64 {
	return mi.Size()
}

// Launch queues fn on s over grid x block threads. A nil stream means the
// default stream. Launch errors surface from s.Synchronize.
func Launch(rt *nrt.Runtime, s *stream.Stream, grid, block Dim3, fn Func) error {
	if !grid.valid() || !block.valid() {
		return fmt.Errorf("%w: grid %v block %v", ErrInvalidDims, grid, block)
	}
	if s == nil {
		s = stream.Default()
	}
	id := s.ID()
	return s.Submit(func() error {
		return run(rt, id, grid, block, fn)
	})
}

// LaunchSync launches fn and waits for s to drain.
func LaunchSync(rt *nrt.Runtime, s *stream.Stream, grid, block Dim3, fn Func) error {
	if s == nil {
		s = stream.Default()
	}
	if err := Launch(rt, s, grid, block, fn); err != nil {
		return err
	}
	return s.Synchronize()
}

func run(rt *nrt.Runtime, s stream.ID, grid, block Dim3, fn Func) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0) * 4)

	per := block.Size()
	total := grid.Size() * per
	for i := 0; i < total && ctx.Err() == nil; i++ {
		t := &Thread{
			ThreadID: ThreadID{
				BlockIdx:  unflatten(i/per, grid),
				ThreadIdx: unflatten(i%per, block),
				BlockDim:  block,
				GridDim:   grid,
			},
			ctx:    ctx,
			rt:     rt,
			stream: s,
		}
		g.Go(func() error {
			return runThread(t, fn)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("kernel: launch grid %v block %v on stream %s: %w", grid, block, s, err)
	}
	return nil
}

func unflatten(i int, d Dim3) Dim3 {
	return Dim3{X: i % d.X, Y: i / d.X % d.Y, Z: i / (d.X * d.Y)}
}

func runThread(t *Thread, fn Func) (err error) {
	if t.ctx.Err() != nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("thread block %v thread %v panicked: %v", t.BlockIdx, t.ThreadIdx, r)
		}
	}()
	if err := fn(t); err != nil {
		return fmt.Errorf("thread block %v thread %v: %w", t.BlockIdx, t.ThreadIdx, err)
	}
	return nil
}
