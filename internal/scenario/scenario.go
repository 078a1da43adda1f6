// Package scenario holds the refcount regression workloads: small kernels
// whose allocation and free deltas are known exactly. They back both the
// package tests and the selftest command.
package scenario

import (
	"errors"
	"fmt"

	"github.com/samcharles93/nrt/internal/array"
	"github.com/samcharles93/nrt/internal/kernel"
	"github.com/samcharles93/nrt/internal/query"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

var ErrImbalance = errors.New("scenario: unexpected allocation delta")

type Scenario struct {
	Name string
	Desc string

	run  runFunc
	want func(d stats.Stats) bool
}

type Result struct {
	Name  string
	Desc  string
	Delta stats.Stats
	Err   error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Run executes the scenario on s with NRT routing forced on.
func (sc Scenario) Run(h *query.Host, s *stream.Stream) Result {
	restore := h.ForceNRT()
	defer restore()

	res := Result{Name: sc.Name, Desc: sc.Desc}
	res.Delta, res.Err = sc.run(h, s)
	if res.Err == nil && !sc.want(res.Delta) {
		res.Err = fmt.Errorf("%w: %s", ErrImbalance, res.Delta)
	}
	return res
}

func RunAll(h *query.Host, s *stream.Stream) []Result {
	all := All()
	out := make([]Result, 0, len(all))
	for _, sc := range all {
		out = append(out, sc.Run(h, s))
	}
	return out
}

func All() []Scenario {
	return []Scenario{
		{
			Name: "no-return",
			Desc: "temporary allocated on every loop iteration",
			run:  noReturn,
			want: exactly(10),
		},
		{
			Name: "escaping-loop-var",
			Desc: "row views taken in two loops over one allocation",
			run:  escapingLoopVar(10),
			want: exactly(1),
		},
		{
			Name: "conditional-alloc",
			Desc: "allocation on a branch that is not taken",
			run:  conditionalAlloc(false),
			want: exactly(1),
		},
		{
			Name: "conditional-alloc-taken",
			Desc: "allocation on a branch that is taken",
			run:  conditionalAlloc(true),
			want: exactly(2),
		},
		{
			Name: "del-at-loop-start",
			Desc: "view released at the top of the loop before it is bound",
			run:  delAtLoopStart,
			want: exactly(0),
		},
		{
			Name: "slice-return",
			Desc: "callee returns a slice of the caller's allocation",
			run:  sliceReturn,
			want: exactly(1),
		},
		{
			Name: "discarded-return",
			Desc: "callee result is dropped by the caller",
			run:  discardedReturn,
			want: exactly(1),
		},
	}
}

func exactly(n uint64) func(stats.Stats) bool {
	return func(d stats.Stats) bool {
		return d == stats.Stats{Alloc: n, Free: n, MIAlloc: n, MIFree: n}
	}
}

func launch(h *query.Host, s *stream.Stream, fn kernel.Func) (stats.Stats, error) {
	return h.Delta(s, func() error {
		return kernel.Launch(h.Runtime(), s, kernel.D1(1), kernel.D1(1), fn)
	})
}

func noReturn(h *query.Host, s *stream.Stream) (stats.Stats, error) {
	return launch(h, s, func(t *kernel.Thread) error {
		for range 10 {
			tmp, err := array.Empty(t, array.Float64, 2)
			if err != nil {
				return err
			}
			tmp.Release()
		}
		return nil
	})
}

type runFunc func(h *query.Host, s *stream.Stream) (stats.Stats, error)

// escapingLoopVar allocates once and rebinds a row view on each of n
// iterations of two loops. The delta is one allocation for any n >= 1.
func escapingLoopVar(n int) runFunc {
	return func(h *query.Host, s *stream.Stream) (stats.Stats, error) {
		return launch(h, s, func(t *kernel.Thread) error {
			x, err := array.Empty(t, array.Float64, n, 2)
			if err != nil {
				return err
			}
			var y *array.Array
			for i := range n {
				if y != nil {
					y.Release()
				}
				y = x.Index(i)
			}
			for i := range n {
				y.Release()
				y = x.Index(i)
			}
			y.Release()
			x.Release()
			return nil
		})
	}
}

// conditionalAlloc always allocates one temporary and a second one only when
// taken is set.
func conditionalAlloc(taken bool) runFunc {
	return func(h *query.Host, s *stream.Stream) (stats.Stats, error) {
		in, err := array.Empty(array.On(h.Runtime(), s.ID()), array.Float64, 5, 5)
		if err != nil {
			return stats.Stats{}, err
		}
		defer in.Release()

		return launch(h, s, func(t *kernel.Thread) error {
			tmp, err := array.EmptyLike(t, in)
			if err != nil {
				return err
			}
			for range tmp.Len() {
			}
			if taken {
				extra, err := array.EmptyLike(t, in)
				if err != nil {
					tmp.Release()
					return err
				}
				extra.Release()
			}
			tmp.Release()
			return nil
		})
	}
}

func delAtLoopStart(h *query.Host, s *stream.Stream) (stats.Stats, error) {
	in, err := array.Empty(array.On(h.Runtime(), s.ID()), array.Float64, 2, 2)
	if err != nil {
		return stats.Stats{}, err
	}
	defer in.Release()
	for i := range 2 {
		for j := range 2 {
			in.SetFloat64(1, i, j)
		}
	}

	return launch(h, s, func(t *kernel.Thread) error {
		var res float64
		var row *array.Array
		for i := range 2 {
			row.Release()
			row = in.Index(i)
			if v := row.Float64At(i); v > 1 {
				res += v
			}
		}
		row.Release()
		_ = res
		return nil
	})
}

func tail(x *array.Array) *array.Array {
	return x.Slice(5, x.Len())
}

func head(x *array.Array) *array.Array {
	return x.Slice(0, 5)
}

func sliceReturn(h *query.Host, s *stream.Stream) (stats.Stats, error) {
	out, err := array.Empty(array.On(h.Runtime(), s.ID()), array.Int64, 1)
	if err != nil {
		return stats.Stats{}, err
	}
	defer out.Release()
	out.SetInt64(0, 0)

	d, err := launch(h, s, func(t *kernel.Thread) error {
		x, err := array.Empty(t, array.Int64, 10)
		if err != nil {
			return err
		}
		x.SetInt64(1, 5)
		y := tail(x)
		x.Release()
		out.SetInt64(y.Int64At(0), 0)
		y.Release()
		return nil
	})
	if err == nil && out.Int64At(0) != 1 {
		err = fmt.Errorf("scenario: slice-return read %d, want 1", out.Int64At(0))
	}
	return d, err
}

func discardedReturn(h *query.Host, s *stream.Stream) (stats.Stats, error) {
	return launch(h, s, func(t *kernel.Thread) error {
		x, err := array.Empty(t, array.Int64, 10)
		if err != nil {
			return err
		}
		head(x).Release()
		x.Release()
		return nil
	})
}
