package kernel

import "fmt"

// Dim3 is a grid or block extent.
type Dim3 struct {
	X, Y, Z int
}

// D1 returns a one-dimensional extent.
func D1(x int) Dim3 {
	return Dim3{X: x, Y: 1, Z: 1}
}

// Size returns the number of elements covered by d.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

func (d Dim3) valid() bool {
	return d.X > 0 && d.Y > 0 && d.Z > 0
}

// ThreadID locates one thread in the launch hierarchy.
type ThreadID struct {
	BlockIdx  Dim3
	ThreadIdx Dim3
	BlockDim  Dim3
	GridDim   Dim3
}

// Global returns the thread's flat index across the whole grid.
func (tid ThreadID) Global() int {
	return tid.block()*tid.BlockDim.Size() + tid.thread()
}

func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

func (tid ThreadID) GlobalZ() int {
	return tid.BlockIdx.Z*tid.BlockDim.Z + tid.ThreadIdx.Z
}

func (tid ThreadID) block() int {
	b, g := tid.BlockIdx, tid.GridDim
	return (b.Z*g.Y+b.Y)*g.X + b.X
}

func (tid ThreadID) thread() int {
	t, d := tid.ThreadIdx, tid.BlockDim
	return (t.Z*d.Y+t.Y)*d.X + t.X
}
