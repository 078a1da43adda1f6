//go:build cuda

package device

func Has(name string) bool {
	switch name {
	case CUDA:
		return true
	default:
		return name == Host
	}
}
