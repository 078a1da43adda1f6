package nrt

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/samcharles93/nrt/internal/device"
	"github.com/samcharles93/nrt/internal/stream"
)

// Dtor is invoked exactly once, when a MemInfo's count reaches zero.
type Dtor func(mi *MemInfo)

// MemInfo is the reference-counted control block of one payload allocation.
//
// A MemInfo is LIVE from creation (count 1) until the decrement that drives
// its count to zero; that decrement runs the destructor, which frees the
// payload and then the control block itself. A handle must not be used after
// that point.
type MemInfo struct {
	refct  atomic.Int64
	data   device.Buffer
	size   int64
	dtor   Dtor
	stream stream.ID
	rt     *Runtime
}

var controlBlocks = sync.Pool{
	New: func() any { return new(MemInfo) },
}

// Incref adds a reference. A nil handle is ignored.
func Incref(mi *MemInfo) {
	if mi == nil {
		return
	}
	debugCheckLive(mi, "incref")
	mi.refct.Add(1)
}

// Decref drops a reference and destroys the MemInfo when it was the last one.
// A nil handle is ignored.
func Decref(mi *MemInfo) {
	if mi == nil {
		return
	}
	debugCheckLive(mi, "decref")
	n := mi.refct.Add(-1)
	if n == 0 {
		mi.dtor(mi)
		return
	}
	debugCheckCount(mi, n)
}

// Size returns the payload size in bytes.
func (mi *MemInfo) Size() int64 {
	debugCheckLive(mi, "size")
	return mi.size
}

// Data returns the payload pointer.
func (mi *MemInfo) Data() unsafe.Pointer {
	debugCheckLive(mi, "data")
	return mi.data.Ptr()
}

// Bytes returns the payload as a byte slice, or nil when it lives in memory
// the host cannot address.
func (mi *MemInfo) Bytes() []byte {
	debugCheckLive(mi, "bytes")
	return mi.data.Bytes()
}

// Stream returns the stream the payload was allocated on.
func (mi *MemInfo) Stream() stream.ID {
	return mi.stream
}

// Refcount returns the current count. It is meant for diagnostics; the value
// may be stale as soon as it is returned.
func (mi *MemInfo) Refcount() int64 {
	return mi.refct.Load()
}

func newControlBlock() *MemInfo {
	return controlBlocks.Get().(*MemInfo)
}

func resetControlBlock(mi *MemInfo) {
	mi.data = device.Buffer{}
	mi.size = 0
	mi.dtor = nil
	mi.stream = stream.DefaultID
	mi.rt = nil
}
