//go:build nrtdebug

package nrt

import "fmt"

// DebugChecks reports whether handle-lifetime assertions are compiled in.
const DebugChecks = true

// poisoned marks a destroyed control block. Debug builds never recycle
// control blocks, so a stale handle keeps pointing at the poisoned value.
const poisoned int64 = -1 << 40

func debugCheckLive(mi *MemInfo, op string) {
	if n := mi.refct.Load(); n < 0 {
		panic(fmt.Sprintf("nrt: %s on destroyed MemInfo %p (refcount %d)", op, mi, n))
	}
}

func debugCheckCount(mi *MemInfo, n int64) {
	if n < 0 {
		panic(fmt.Sprintf("nrt: refcount of MemInfo %p dropped below zero (%d)", mi, n))
	}
}

func freeControlBlock(mi *MemInfo) {
	resetControlBlock(mi)
	mi.refct.Store(poisoned)
}
