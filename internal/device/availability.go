package device

import "strings"

// Available returns a comma-separated list of allocators compiled in.
func Available() string {
	entries := []string{Host}
	if Has(CUDA) {
		entries = append(entries, CUDA)
	}
	return strings.Join(entries, ",")
}
