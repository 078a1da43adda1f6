//go:build !cuda

package device

func Has(name string) bool {
	return name == Host
}
