package allocator

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// FixedAllocator bump-allocates within a single fixed-size backing region.
// The region never grows: allocation fails deterministically at capacity.
// Reset rewinds the cursor without clearing memory. Not safe for concurrent
// use.
type FixedAllocator struct {
	config          *Config
	buffer          []byte
	offset          uintptr
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	peakUsage       uintptr
	destroyed       bool
}

// NewFixed creates a fixed allocator over a backing region of size bytes.
func NewFixed(size uintptr, options ...Option) (*FixedAllocator, error) {
	if size == 0 {
		return nil, errors.InvalidSize(size, "fixed region size")
	}

	return &FixedAllocator{
		config: buildConfig(options),
		buffer: make([]byte, size),
	}, nil
}

// Kind returns FixedKind.
func (f *FixedAllocator) Kind() Kind { return FixedKind }

// Alloc bump-allocates from the fixed region.
func (f *FixedAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	align := effectiveAlign(req.Align, f.config.AlignmentSize)
	alignedSize := alignUp(req.Size, f.config.AlignmentSize)

	return resolveAlloc(req, func() unsafe.Pointer {
		return f.tryAlloc(alignedSize, align)
	})
}

func (f *FixedAllocator) tryAlloc(alignedSize, align uintptr) unsafe.Pointer {
	if f.destroyed {
		panic("allocator: fixed region used after Destroy")
	}

	base := uintptr(unsafe.Pointer(&f.buffer[0]))
	start := alignUp(base+f.offset, align) - base

	if start+alignedSize > uintptr(len(f.buffer)) {
		return nil
	}

	ptr := unsafe.Pointer(&f.buffer[start])
	f.offset = start + alignedSize
	f.totalAllocated += alignedSize
	f.allocationCount++

	if f.offset > f.peakUsage {
		f.peakUsage = f.offset
	}

	return ptr
}

// Free is a no-op for fixed-region memory; pointers from another allocator
// are rejected.
func (f *FixedAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if !f.Owns(ptr) {
		return errors.AllocatorMismatch("fixed Free")
	}

	return nil
}

// Realloc allocates a new block and copies min(oldSize, newSize) bytes; the
// old block is logically freed.
func (f *FixedAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return f.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, f.Free(ptr)
	}

	if !f.Owns(ptr) {
		return nil, errors.AllocatorMismatch("fixed Realloc")
	}

	newPtr, err := f.Alloc(Sized(newSize))
	if err != nil {
		return nil, err
	}

	copySize := oldSize
	if newSize < oldSize {
		copySize = newSize
	}

	copyMemory(newPtr, ptr, copySize)

	return newPtr, nil
}

// Reset rewinds the cursor to 0. Memory is not cleared; request FlagZero on
// subsequent allocations that need fresh bytes.
func (f *FixedAllocator) Reset() error {
	if f.destroyed {
		panic("allocator: fixed region used after Destroy")
	}

	f.totalFreed += f.offset
	f.offset = 0

	return nil
}

// Owns reports whether ptr points into the backing region.
func (f *FixedAllocator) Owns(ptr unsafe.Pointer) bool {
	return sliceContains(f.buffer, ptr)
}

// Destroy releases the backing region and invalidates the allocator.
func (f *FixedAllocator) Destroy() {
	f.buffer = nil
	f.offset = 0
	f.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (f *FixedAllocator) TotalAllocated() uintptr { return f.totalAllocated }

// TotalFreed returns bytes reclaimed by Reset.
func (f *FixedAllocator) TotalFreed() uintptr { return f.totalFreed }

// ActiveAllocations returns the cumulative allocation count; the region does
// not track individual releases.
func (f *FixedAllocator) ActiveAllocations() int { return int(f.allocationCount) }

// Stats returns allocation statistics.
func (f *FixedAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		TotalAllocated:    f.totalAllocated,
		TotalFreed:        f.totalFreed,
		ActiveAllocations: int(f.allocationCount),
		AllocationCount:   f.allocationCount,
		BytesInUse:        f.offset,
		Capacity:          uintptr(len(f.buffer)),
	}
}

// Available returns the bytes left in the region.
func (f *FixedAllocator) Available() uintptr {
	return uintptr(len(f.buffer)) - f.offset
}
