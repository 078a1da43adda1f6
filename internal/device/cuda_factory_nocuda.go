//go:build !cuda

package device

import "fmt"

func NewCUDA(cfg Config) (Allocator, error) {
	return nil, fmt.Errorf("cuda allocator is not available in this build")
}
