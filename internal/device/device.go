// Package device adapts stream-ordered memory allocators for the runtime.
//
// An Allocator hands out aligned payload buffers on behalf of a stream and
// takes them back on the same stream. Implementations must be safe for
// concurrent use from many goroutines and must not synchronize one stream
// against another.
package device

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/samcharles93/nrt/internal/stream"
)

const (
	Auto = "auto"
	Host = "host"
	CUDA = "cuda"
)

// DefaultAlignment is used when a caller passes an alignment of 0.
const DefaultAlignment = 64

const minAlignment = 8

var (
	ErrOutOfMemory      = errors.New("device out of memory")
	ErrInvalidSize      = errors.New("invalid allocation size")
	ErrInvalidAlignment = errors.New("invalid allocation alignment")
)

type bufferKind uint8

const (
	kindHeap bufferKind = iota + 1
	kindMmap
	kindNative
)

// Buffer is a payload allocation. Host-backed buffers keep their backing
// memory reachable for as long as the Buffer value is held.
type Buffer struct {
	ptr   unsafe.Pointer
	size  int64
	align int
	kind  bufferKind
	mem   []byte
}

func (b Buffer) Ptr() unsafe.Pointer {
	return b.ptr
}

func (b Buffer) Size() int64 {
	return b.size
}

func (b Buffer) Align() int {
	return b.align
}

func (b Buffer) IsNil() bool {
	return b.ptr == nil
}

// Bytes returns the payload as a byte slice, or nil when the memory is not
// addressable from the host.
func (b Buffer) Bytes() []byte {
	if b.ptr == nil || b.kind == kindNative {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

// HostAddressable reports whether Bytes can be used.
func (b Buffer) HostAddressable() bool {
	return b.ptr != nil && b.kind != kindNative
}

// NativeBuffer wraps memory owned by a native driver allocator.
func NativeBuffer(ptr unsafe.Pointer, size int64, align int) Buffer {
	return Buffer{ptr: ptr, size: size, align: align, kind: kindNative}
}

type Allocator interface {
	Name() string
	Alloc(s stream.ID, size int64, align int) (Buffer, error)
	Free(s stream.ID, b Buffer) error
}

// StreamReleaser is implemented by allocators that keep per-stream state.
type StreamReleaser interface {
	ReleaseStream(s stream.ID) error
}

// Config configures allocator construction.
type Config struct {
	// Capacity bounds the bytes in use (0 means unbounded). CUDA ignores it.
	Capacity int64 `yaml:"capacity"`
	// MmapThreshold routes host allocations of at least this many bytes to
	// anonymous mappings (0 disables mmap).
	MmapThreshold int64 `yaml:"mmap_threshold"`
	// StreamCacheLimit bounds the freed blocks parked per stream for reuse.
	StreamCacheLimit int `yaml:"stream_cache_limit"`
	// DeviceID selects the CUDA device.
	DeviceID int `yaml:"device_id"`
}

func DefaultConfig() Config {
	return Config{
		MmapThreshold:    1 << 20,
		StreamCacheLimit: 64,
	}
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Host, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown allocator %q (expected auto, host, or cuda)", backend)
	}
}

// New builds the named allocator. Auto prefers CUDA when it is compiled in
// and a device is present.
func New(name string, cfg Config) (Allocator, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Host:
		return NewHostPool(cfg), nil
	case CUDA:
		return NewCUDA(cfg)
	default:
		if Has(CUDA) {
			if a, err := NewCUDA(cfg); err == nil {
				return a, nil
			}
		}
		return NewHostPool(cfg), nil
	}
}

// checkRequest validates a request and resolves the effective alignment.
func checkRequest(size int64, align int) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if align == 0 {
		align = DefaultAlignment
	}
	if align < minAlignment || bits.OnesCount(uint(align)) != 1 {
		return 0, fmt.Errorf("%w: %d (must be a power of two >= %d)", ErrInvalidAlignment, align, minAlignment)
	}
	return align, nil
}
