//go:build cuda

package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/nrt/internal/device/native"
	"github.com/samcharles93/nrt/internal/stream"
)

// CUDAPool forwards to the driver's stream-ordered allocator. Each runtime
// stream is backed by its own native stream; the default stream maps to the
// legacy default stream.
type CUDAPool struct {
	device  int
	streams sync.Map // stream.ID -> native.Stream
	mu      sync.Mutex
}

func newCUDAPool(cfg Config) (*CUDAPool, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf("no cuda device available")
	}
	if cfg.DeviceID < 0 || cfg.DeviceID >= count {
		return nil, fmt.Errorf("cuda device %d out of range (have %d)", cfg.DeviceID, count)
	}
	if err := native.SetDevice(cfg.DeviceID); err != nil {
		return nil, err
	}
	return &CUDAPool{device: cfg.DeviceID}, nil
}

func (p *CUDAPool) Name() string {
	return CUDA
}

func (p *CUDAPool) Alloc(s stream.ID, size int64, align int) (Buffer, error) {
	align, err := checkRequest(size, align)
	if err != nil {
		return Buffer{}, err
	}
	if align > native.DriverAlignment {
		return Buffer{}, fmt.Errorf("%w: %d exceeds driver alignment %d", ErrInvalidAlignment, align, native.DriverAlignment)
	}
	ns, err := p.native(s)
	if err != nil {
		return Buffer{}, err
	}
	// A zero-byte request still needs a distinct handle.
	n := max(size, 1)
	ptr, err := native.MallocAsync(n, ns)
	if err != nil {
		if errors.Is(err, native.ErrMemoryAllocation) {
			return Buffer{}, fmt.Errorf("%w: requested %d bytes on stream %s: %v", ErrOutOfMemory, size, s, err)
		}
		return Buffer{}, err
	}
	return NativeBuffer(ptr, size, align), nil
}

func (p *CUDAPool) Free(s stream.ID, b Buffer) error {
	if b.ptr == nil {
		return nil
	}
	ns, err := p.native(s)
	if err != nil {
		return err
	}
	return native.FreeAsync(b.ptr, ns)
}

// ReleaseStream synchronizes and destroys the native stream backing s.
func (p *CUDAPool) ReleaseStream(s stream.ID) error {
	v, ok := p.streams.LoadAndDelete(s)
	if !ok {
		return nil
	}
	ns := v.(native.Stream)
	if err := ns.Synchronize(); err != nil {
		return err
	}
	return ns.Destroy()
}

func (p *CUDAPool) native(s stream.ID) (native.Stream, error) {
	if s.IsDefault() {
		return native.Stream{}, nil
	}
	if v, ok := p.streams.Load(s); ok {
		return v.(native.Stream), nil
	}
	// Creation is rare; serialize it so a stream id never gets two handles.
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.streams.Load(s); ok {
		return v.(native.Stream), nil
	}
	ns, err := native.NewStream()
	if err != nil {
		return native.Stream{}, err
	}
	p.streams.Store(s, ns)
	return ns, nil
}
