// Package array provides typed n-dimensional views over runtime-managed
// buffers. Every view holds its own reference on the underlying MemInfo, so
// a view outlives the array it was taken from and the buffer is freed when
// the last view is released.
package array

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/nrt/internal/nrt"
	"github.com/samcharles93/nrt/internal/stream"
)

var ErrInvalidShape = errors.New("array: invalid shape")

type DType uint8

const (
	Float64 DType = iota + 1
	Float32
	Int64
	Int32
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("DType(%d)", uint8(d))
	}
}

// Allocator hands out runtime-managed buffers. *kernel.Thread satisfies it
// inside a kernel; On binds a runtime and stream for host code.
type Allocator interface {
	AllocAligned(size int64, align int) (*nrt.MemInfo, error)
}

type boundAllocator struct {
	rt *nrt.Runtime
	s  stream.ID
}

func (b boundAllocator) AllocAligned(size int64, align int) (*nrt.MemInfo, error) {
	return b.rt.AllocAligned(b.s, size, align)
}

// On returns an Allocator that allocates from rt on stream s.
func On(rt *nrt.Runtime, s stream.ID) Allocator {
	return boundAllocator{rt: rt, s: s}
}

// Array is a strided view. Strides and offset are in bytes.
type Array struct {
	mi      *nrt.MemInfo
	dtype   DType
	shape   []int
	strides []int
	offset  int64
}

// Empty allocates an uninitialised C-contiguous array.
func Empty(a Allocator, dtype DType, shape ...int) (*Array, error) {
	item := dtype.Size()
	if item == 0 {
		return nil, fmt.Errorf("%w: unsupported dtype %v", ErrInvalidShape, dtype)
	}
	n := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrInvalidShape, shape)
		}
		n *= int64(d)
	}
	mi, err := a.AllocAligned(n*int64(item), 0)
	if err != nil {
		return nil, err
	}
	return &Array{
		mi:      mi,
		dtype:   dtype,
		shape:   append([]int(nil), shape...),
		strides: contiguous(shape, item),
	}, nil
}

// EmptyLike allocates an array with like's dtype and shape.
func EmptyLike(a Allocator, like *Array) (*Array, error) {
	return Empty(a, like.dtype, like.shape...)
}

func contiguous(shape []int, item int) []int {
	strides := make([]int, len(shape))
	acc := item
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= max(shape[i], 1)
	}
	return strides
}

func (a *Array) MemInfo() *nrt.MemInfo {
	return a.mi
}

func (a *Array) DType() DType {
	return a.dtype
}

func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

func (a *Array) Strides() []int {
	return append([]int(nil), a.strides...)
}

func (a *Array) NDim() int {
	return len(a.shape)
}

// Len returns the extent of the first axis.
func (a *Array) Len() int {
	if len(a.shape) == 0 {
		return 0
	}
	return a.shape[0]
}

// Size returns the number of elements.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

// Extent returns the byte range [lo, hi) of the buffer the view can touch.
func (a *Array) Extent() (lo, hi int64) {
	if a.Size() == 0 {
		return a.offset, a.offset
	}
	hi = a.offset + int64(a.dtype.Size())
	for i, d := range a.shape {
		hi += int64(d-1) * int64(a.strides[i])
	}
	return a.offset, hi
}

// Index returns the sub-view at position i of the first axis.
func (a *Array) Index(i int) *Array {
	if len(a.shape) == 0 {
		panic("array: index of a 0-d array")
	}
	if i < 0 || i >= a.shape[0] {
		panic(fmt.Sprintf("array: index %d out of range [0:%d]", i, a.shape[0]))
	}
	return a.view(a.offset+int64(i)*int64(a.strides[0]), a.shape[1:], a.strides[1:])
}

// Slice returns the view [lo:hi) of the first axis.
func (a *Array) Slice(lo, hi int) *Array {
	if len(a.shape) == 0 {
		panic("array: slice of a 0-d array")
	}
	if lo < 0 || hi < lo || hi > a.shape[0] {
		panic(fmt.Sprintf("array: slice bounds [%d:%d] out of range [0:%d]", lo, hi, a.shape[0]))
	}
	shape := append([]int{hi - lo}, a.shape[1:]...)
	return a.view(a.offset+int64(lo)*int64(a.strides[0]), shape, a.strides)
}

func (a *Array) view(offset int64, shape, strides []int) *Array {
	v := &Array{
		mi:      a.mi,
		dtype:   a.dtype,
		shape:   append([]int(nil), shape...),
		strides: append([]int(nil), strides...),
		offset:  offset,
	}
	if _, hi := v.Extent(); hi > a.mi.Size() {
		panic(fmt.Sprintf("array: view extent %d exceeds buffer of %d bytes", hi, a.mi.Size()))
	}
	nrt.Incref(a.mi)
	return v
}

// Retain returns an alias holding an extra reference.
func (a *Array) Retain() *Array {
	nrt.Incref(a.mi)
	return &Array{
		mi:      a.mi,
		dtype:   a.dtype,
		shape:   a.shape,
		strides: a.strides,
		offset:  a.offset,
	}
}

// Release drops the view's reference. Releasing twice, or releasing a nil
// view, is a no-op.
func (a *Array) Release() {
	if a == nil {
		return
	}
	mi := a.mi
	a.mi = nil
	nrt.Decref(mi)
}

func (a *Array) Float64At(idx ...int) float64 {
	return math.Float64frombits(binary.NativeEndian.Uint64(a.elem(Float64, idx)))
}

func (a *Array) SetFloat64(v float64, idx ...int) {
	binary.NativeEndian.PutUint64(a.elem(Float64, idx), math.Float64bits(v))
}

func (a *Array) Int64At(idx ...int) int64 {
	return int64(binary.NativeEndian.Uint64(a.elem(Int64, idx)))
}

func (a *Array) SetInt64(v int64, idx ...int) {
	binary.NativeEndian.PutUint64(a.elem(Int64, idx), uint64(v))
}

func (a *Array) elem(want DType, idx []int) []byte {
	if a.dtype != want {
		panic(fmt.Sprintf("array: %v access on %v array", want, a.dtype))
	}
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("array: %d indices for %d-d array", len(idx), len(a.shape)))
	}
	off := a.offset
	for k, i := range idx {
		if i < 0 || i >= a.shape[k] {
			panic(fmt.Sprintf("array: index %d out of range [0:%d] on axis %d", i, a.shape[k], k))
		}
		off += int64(i) * int64(a.strides[k])
	}
	b := a.mi.Bytes()
	if b == nil {
		panic("array: buffer is not host addressable")
	}
	return b[off : off+int64(a.dtype.Size())]
}
