//go:build unix

package allocator

import "golang.org/x/sys/unix"

// mmapAlloc maps an anonymous private region of at least size bytes. The
// returned buffer is page-aligned and zero-filled by the kernel.
func mmapAlloc(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
}

// mmapFree unmaps a region obtained from mmapAlloc.
func mmapFree(buf []byte) {
	_ = unix.Munmap(buf)
}
