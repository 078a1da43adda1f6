//go:build cuda

package device

func NewCUDA(cfg Config) (Allocator, error) {
	return newCUDAPool(cfg)
}
