package nrt

import (
	"errors"
	"fmt"

	"github.com/samcharles93/nrt/internal/stream"
)

// ErrAllocationFailure matches every error returned by a failed allocation.
var ErrAllocationFailure = errors.New("nrt: allocation failure")

// AllocationError describes a failed payload allocation. It unwraps to the
// allocator's error and matches ErrAllocationFailure.
type AllocationError struct {
	Size   int64
	Align  int
	Stream stream.ID
	Err    error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("nrt: allocate %d bytes (align %d) on stream %s: %v", e.Size, e.Align, e.Stream, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

func (e *AllocationError) Is(target error) bool {
	return target == ErrAllocationFailure
}
