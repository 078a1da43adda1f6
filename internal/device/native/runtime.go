//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

// Forward declarations keep the build free of CUDA headers; libcudart is
// still required at link time.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMallocAsync(void** ptr, unsigned long long size, cudaStream_t stream);
extern cudaError_t cudaFreeAsync(void* ptr, cudaStream_t stream);

static const char* nrtCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int nrtCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int nrtCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int nrtCudaMemGetInfo(unsigned long long* free, unsigned long long* total) {
	return (int)cudaMemGetInfo(free, total);
}

static int nrtCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int nrtCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int nrtCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int nrtCudaMallocAsync(void** ptr, unsigned long long size, cudaStream_t stream) {
	return (int)cudaMallocAsync(ptr, size, stream);
}

static int nrtCudaFreeAsync(void* ptr, cudaStream_t stream) {
	return (int)cudaFreeAsync(ptr, stream);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// cudaErrorMemoryAllocation
const codeMemoryAllocation = 2

// ErrMemoryAllocation matches allocation failures reported by the driver.
var ErrMemoryAllocation = errors.New("cuda memory allocation failed")

// DriverAlignment is the minimum alignment of stream-ordered allocations.
const DriverAlignment = 256

// Stream is a native stream handle. The zero Stream is the legacy default
// stream.
type Stream struct {
	ptr C.cudaStream_t
}

type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cuda runtime error %d: %s", e.Code, e.Msg)
}

func (e *Error) Is(target error) bool {
	return target == ErrMemoryAllocation && e.Code == codeMemoryAllocation
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.nrtCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(id int) error {
	return cudaErr(C.nrtCudaSetDevice(C.int(id)))
}

// MemInfo returns free and total device memory in bytes.
func MemInfo() (free, total uint64, err error) {
	var f, t C.ulonglong
	if err := cudaErr(C.nrtCudaMemGetInfo(&f, &t)); err != nil {
		return 0, 0, err
	}
	return uint64(f), uint64(t), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.nrtCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.nrtCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	return cudaErr(C.nrtCudaStreamSynchronize(s.ptr))
}

// MallocAsync allocates bytes ordered on stream s.
func MallocAsync(bytes int64, s Stream) (unsafe.Pointer, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("device alloc size must be >= 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.nrtCudaMallocAsync((*unsafe.Pointer)(&ptr), C.ulonglong(bytes), s.ptr)); err != nil {
		return nil, err
	}
	return ptr, nil
}

// FreeAsync releases ptr ordered on stream s.
func FreeAsync(ptr unsafe.Pointer, s Stream) error {
	if ptr == nil {
		return nil
	}
	return cudaErr(C.nrtCudaFreeAsync(ptr, s.ptr))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.nrtCudaGetErrorString(C.cudaError_t(code)))
	return &Error{Code: int(code), Msg: msg}
}
