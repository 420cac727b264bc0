package allocator

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// BumpAllocator monotonically increments a cursor into one fixed buffer.
// It is the fastest variant: no per-allocation bookkeeping and no individual
// reclamation, ever. Reset rewinds the cursor to 0. Not safe for concurrent
// use.
type BumpAllocator struct {
	config          *Config
	buffer          []byte
	cursor          uintptr
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	destroyed       bool
}

// NewBump creates a bump allocator over a buffer of size bytes.
func NewBump(size uintptr, options ...Option) (*BumpAllocator, error) {
	if size == 0 {
		return nil, errors.InvalidSize(size, "bump buffer size")
	}

	return &BumpAllocator{
		config: buildConfig(options),
		buffer: make([]byte, size),
	}, nil
}

// Kind returns BumpKind.
func (b *BumpAllocator) Kind() Kind { return BumpKind }

// Alloc advances the cursor by the aligned request size.
func (b *BumpAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	align := effectiveAlign(req.Align, b.config.AlignmentSize)
	alignedSize := alignUp(req.Size, b.config.AlignmentSize)

	return resolveAlloc(req, func() unsafe.Pointer {
		return b.tryAlloc(alignedSize, align)
	})
}

func (b *BumpAllocator) tryAlloc(alignedSize, align uintptr) unsafe.Pointer {
	if b.destroyed {
		panic("allocator: bump buffer used after Destroy")
	}

	base := uintptr(unsafe.Pointer(&b.buffer[0]))
	start := alignUp(base+b.cursor, align) - base

	if start+alignedSize > uintptr(len(b.buffer)) {
		return nil
	}

	ptr := unsafe.Pointer(&b.buffer[start])
	b.cursor = start + alignedSize
	b.totalAllocated += alignedSize
	b.allocationCount++

	return ptr
}

// Free is a no-op for bump memory; pointers from another allocator are
// rejected.
func (b *BumpAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if !b.Owns(ptr) {
		return errors.AllocatorMismatch("bump Free")
	}

	return nil
}

// Realloc allocates a new block and copies min(oldSize, newSize) bytes; the
// old block is logically freed.
func (b *BumpAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return b.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, b.Free(ptr)
	}

	if !b.Owns(ptr) {
		return nil, errors.AllocatorMismatch("bump Realloc")
	}

	newPtr, err := b.Alloc(Sized(newSize))
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
func (b *BumpAllocator) Reset() error {
	if b.destroyed {
		panic("allocator: bump buffer used after Destroy")
	}

	b.totalFreed += b.cursor
	b.cursor = 0

	return nil
}

// Owns reports whether ptr points into the bump buffer.
func (b *BumpAllocator) Owns(ptr unsafe.Pointer) bool {
	return sliceContains(b.buffer, ptr)
}

// Destroy releases the buffer and invalidates the allocator.
func (b *BumpAllocator) Destroy() {
	b.buffer = nil
	b.cursor = 0
	b.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (b *BumpAllocator) TotalAllocated() uintptr { return b.totalAllocated }

// TotalFreed returns bytes reclaimed by Reset.
func (b *BumpAllocator) TotalFreed() uintptr { return b.totalFreed }

// ActiveAllocations returns the cumulative allocation count; the bump buffer
// does not track individual releases.
func (b *BumpAllocator) ActiveAllocations() int { return int(b.allocationCount) }

// Stats returns allocation statistics.
func (b *BumpAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		TotalAllocated:    b.totalAllocated,
		TotalFreed:        b.totalFreed,
		ActiveAllocations: int(b.allocationCount),
		AllocationCount:   b.allocationCount,
		BytesInUse:        b.cursor,
		Capacity:          uintptr(len(b.buffer)),
	}
}
