package scenario

import (
	"strconv"
	"testing"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/query"
	"github.com/samcharles93/nrt/internal/stats"
	"github.com/samcharles93/nrt/internal/stream"
)

func newHost(t *testing.T, mode stats.Mode) (*query.Host, *stream.Stream) {
	t.Helper()
	rt := nrt.New(device.NewHostPool(device.DefaultConfig()), stats.NewRegistry(mode), nrt.WithNRTEnabled(false))
	s := stream.New(t.Name())
	t.Cleanup(func() { _ = s.Close() })
	return query.New(rt), s
}

func TestScenarios(t *testing.T) {
	t.Parallel()

	for _, mode := range []stats.Mode{stats.Global, stats.PerStream} {
		for _, sc := range All() {
			t.Run(mode.String()+"/"+sc.Name, func(t *testing.T) {
				t.Parallel()

				h, s := newHost(t, mode)
				res := sc.Run(h, s)
				if !res.OK() {
					t.Fatalf("%s: %v (delta %v)", sc.Name, res.Err, res.Delta)
				}
				if h.NRTRouted() {
					t.Fatal("scenario left NRT routing forced on")
				}
				if g := h.AllocationStats(nil); !g.Balanced() {
					t.Fatalf("global counters unbalanced after %s: %v", sc.Name, g)
				}
			})
		}
	}
}

func TestRunAllSharesOneStream(t *testing.T) {
	t.Parallel()

	h, s := newHost(t, stats.PerStream)
	results := RunAll(h, s)
	if len(results) != len(All()) {
		t.Fatalf("got %d results", len(results))
	}
	var allocs uint64
	for _, r := range results {
		if !r.OK() {
			t.Fatalf("%s: %v", r.Name, r.Err)
		}
		allocs += r.Delta.Alloc
	}
	if got := h.AllocationStats(s); got.Alloc < allocs || !got.Balanced() {
		t.Fatalf("stream counters %v, scenario allocs %d", got, allocs)
	}
}

func TestStatsDisabledIsDetected(t *testing.T) {
	t.Parallel()

	h, s := newHost(t, stats.Global)
	h.SetStatsEnabled(false)
	res := All()[0].Run(h, s)
	if res.OK() {
		t.Fatal("expected no-return to fail with statistics disabled")
	}
	if res.Delta != (stats.Stats{}) {
		t.Fatalf("disabled counters moved: %v", res.Delta)
	}
}

func TestConditionalAllocBranches(t *testing.T) {
	t.Parallel()

	h, s := newHost(t, stats.PerStream)
	restore := h.ForceNRT()
	defer restore()

	cases := []struct {
		name  string
		taken bool
		want  uint64
	}{
		{name: "not-taken", taken: false, want: 1},
		{name: "taken", taken: true, want: 2},
	}
	deltas := make(map[bool]stats.Stats, len(cases))
	for _, tc := range cases {
		d, err := conditionalAlloc(tc.taken)(h, s)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		want := stats.Stats{Alloc: tc.want, Free: tc.want, MIAlloc: tc.want, MIFree: tc.want}
		if d != want {
			t.Fatalf("%s: delta %v, want %v", tc.name, d, want)
		}
		deltas[tc.taken] = d
	}

	// The taken branch adds exactly one balanced allocation on top of the
	// unconditional temporary.
	extra := deltas[true].Sub(deltas[false])
	if extra != (stats.Stats{Alloc: 1, Free: 1, MIAlloc: 1, MIFree: 1}) {
		t.Fatalf("branch contribution %v", extra)
	}
}

func TestEscapingLoopVarTripCount(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 10, 100} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			t.Parallel()

			h, s := newHost(t, stats.PerStream)
			restore := h.ForceNRT()
			defer restore()

			d, err := escapingLoopVar(n)(h, s)
			if err != nil {
				t.Fatalf("n=%d: %v", n, err)
			}
			if d != (stats.Stats{Alloc: 1, Free: 1, MIAlloc: 1, MIFree: 1}) {
				t.Fatalf("n=%d: delta %v", n, d)
			}
		})
	}
}
