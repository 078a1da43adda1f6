package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/nrt/internal/stream"
)

// HostPool emulates a stream-ordered device memory pool in host memory.
//
// Bytes in use are accounted with a lock-free counter. Freed blocks are parked
// in a cache owned by the freeing stream and are only handed out again to
// later allocations on that same stream, so no stream ever waits on another.
type HostPool struct {
	capacity      int64
	mmapThreshold int64
	cacheLimit    int
	pageSize      int

	inUse  atomic.Int64
	caches sync.Map // stream.ID -> *streamCache
}

type cacheKey struct {
	size  int64
	align int
}

type streamCache struct {
	mu     sync.Mutex
	blocks map[cacheKey][]Buffer
	n      int
}

func NewHostPool(cfg Config) *HostPool {
	return &HostPool{
		capacity:      cfg.Capacity,
		mmapThreshold: cfg.MmapThreshold,
		cacheLimit:    cfg.StreamCacheLimit,
		pageSize:      unix.Getpagesize(),
	}
}

func (p *HostPool) Name() string {
	return Host
}

// InUse reports accounted bytes, including blocks parked in stream caches.
func (p *HostPool) InUse() int64 {
	return p.inUse.Load()
}

// Cached reports how many freed blocks are parked for stream s.
func (p *HostPool) Cached(s stream.ID) int {
	v, ok := p.caches.Load(s)
	if !ok {
		return 0
	}
	c := v.(*streamCache)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (p *HostPool) Alloc(s stream.ID, size int64, align int) (Buffer, error) {
	align, err := checkRequest(size, align)
	if err != nil {
		return Buffer{}, err
	}
	key := cacheKey{size: size, align: align}
	if b, ok := p.cache(s).take(key); ok {
		return b, nil
	}

	if !p.reserve(size) {
		// The stream's own parked blocks are the only memory it may reclaim
		// without waiting on another stream.
		p.Trim(s)
		if !p.reserve(size) {
			return Buffer{}, fmt.Errorf("%w: requested %d bytes on stream %s (%d of %d in use)",
				ErrOutOfMemory, size, s, p.inUse.Load(), p.capacity)
		}
	}

	var b Buffer
	if p.mmapThreshold > 0 && size >= p.mmapThreshold && align <= p.pageSize {
		b, err = mmapAlloc(size, align)
	} else {
		b = heapAlloc(size, align)
	}
	if err != nil {
		p.inUse.Add(-size)
		return Buffer{}, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return b, nil
}

func (p *HostPool) Free(s stream.ID, b Buffer) error {
	if b.ptr == nil {
		return nil
	}
	if b.kind != kindHeap && b.kind != kindMmap {
		return fmt.Errorf("host pool cannot free a %d buffer", b.kind)
	}
	if p.cache(s).put(b, p.cacheLimit) {
		return nil
	}
	return p.release(b)
}

// Trim returns every block parked for stream s to the system.
func (p *HostPool) Trim(s stream.ID) {
	v, ok := p.caches.Load(s)
	if !ok {
		return
	}
	for _, b := range v.(*streamCache).drain() {
		_ = p.release(b)
	}
}

// ReleaseStream trims the stream's cache and forgets it.
func (p *HostPool) ReleaseStream(s stream.ID) error {
	p.Trim(s)
	p.caches.Delete(s)
	return nil
}

func (p *HostPool) reserve(n int64) bool {
	for {
		cur := p.inUse.Load()
		if p.capacity > 0 && cur+n > p.capacity {
			return false
		}
		if p.inUse.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (p *HostPool) release(b Buffer) error {
	defer p.inUse.Add(-b.size)
	if b.kind == kindMmap {
		return unix.Munmap(b.mem)
	}
	return nil
}

func (p *HostPool) cache(s stream.ID) *streamCache {
	if v, ok := p.caches.Load(s); ok {
		return v.(*streamCache)
	}
	v, _ := p.caches.LoadOrStore(s, &streamCache{blocks: make(map[cacheKey][]Buffer)})
	return v.(*streamCache)
}

func (c *streamCache) take(key cacheKey) (Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.blocks[key]
	if len(list) == 0 {
		return Buffer{}, false
	}
	b := list[len(list)-1]
	c.blocks[key] = list[:len(list)-1]
	c.n--
	return b, true
}

func (c *streamCache) put(b Buffer, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n >= limit {
		return false
	}
	key := cacheKey{size: b.size, align: b.align}
	c.blocks[key] = append(c.blocks[key], b)
	c.n++
	return true
}

func (c *streamCache) drain() []Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Buffer, 0, c.n)
	for key, list := range c.blocks {
		out = append(out, list...)
		delete(c.blocks, key)
	}
	c.n = 0
	return out
}

// heapAlloc over-allocates by align bytes and offsets into the block, so a
// zero-byte request still yields a distinct, valid pointer.
func heapAlloc(size int64, align int) Buffer {
	raw := make([]byte, size+int64(align))
	base := uintptr(unsafe.Pointer(&raw[0]))
	off := (align - int(base%uintptr(align))) % align
	return Buffer{
		ptr:   unsafe.Pointer(&raw[off]),
		size:  size,
		align: align,
		kind:  kindHeap,
		mem:   raw,
	}
}

func mmapAlloc(size int64, align int) (Buffer, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Buffer{}, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return Buffer{
		ptr:   unsafe.Pointer(&mem[0]),
		size:  size,
		align: align,
		kind:  kindMmap,
		mem:   mem,
	}, nil
}
