//go:build !nrtdebug

package nrt

// DebugChecks reports whether handle-lifetime assertions are compiled in.
const DebugChecks = false

func debugCheckLive(mi *MemInfo, op string) {}

func debugCheckCount(mi *MemInfo, n int64) {}

func freeControlBlock(mi *MemInfo) {
	resetControlBlock(mi)
	controlBlocks.Put(mi)
}
