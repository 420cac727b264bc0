//go:build !unix

package allocator

import "fmt"

// mmapAlloc always fails on platforms without anonymous mmap; the heap falls
// back to Go-heap backed blocks.
func mmapAlloc(size uintptr) ([]byte, error) {
	return nil, fmt.Errorf("mmap unsupported on this platform")
}

func mmapFree(buf []byte) {}
