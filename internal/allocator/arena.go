package allocator

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// ArenaAllocator bump-allocates within the current page and chains a new
// page from the Go heap on overflow. Individual Free is accepted as a no-op;
// the only real reclamation is Reset, which drops every page at once.
// Not safe for concurrent use.
type ArenaAllocator struct {
	config          *Config
	pages           [][]byte
	pageSize        uintptr
	capacity        uintptr // max reserved bytes, 0 = unbounded
	offset          uintptr // cursor into the last page
	reserved        uintptr // sum of page sizes
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	peakUsage       uintptr
	destroyed       bool
}

// NewArena creates an arena with the given page size and an optional total
// capacity limit in bytes (0 means unbounded).
func NewArena(pageSize, capacity uintptr, options ...Option) (*ArenaAllocator, error) {
	if pageSize == 0 {
		return nil, errors.InvalidSize(pageSize, "arena page size")
	}

	if capacity != 0 && capacity < pageSize {
		return nil, errors.InvalidSize(capacity, "arena capacity below page size")
	}

	return &ArenaAllocator{
		config:   buildConfig(options),
		pageSize: pageSize,
		capacity: capacity,
	}, nil
}

// Kind returns ArenaKind.
func (a *ArenaAllocator) Kind() Kind { return ArenaKind }

// Alloc bump-allocates from the current page, chaining a new one on overflow.
func (a *ArenaAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	align := effectiveAlign(req.Align, a.config.AlignmentSize)
	alignedSize := alignUp(req.Size, a.config.AlignmentSize)

	return resolveAlloc(req, func() unsafe.Pointer {
		return a.tryAlloc(alignedSize, align)
	})
}

func (a *ArenaAllocator) tryAlloc(alignedSize, align uintptr) unsafe.Pointer {
	if a.destroyed {
		panic("allocator: arena used after Destroy")
	}

	if ptr := a.fitCurrent(alignedSize, align); ptr != nil {
		return ptr
	}

	// Current page exhausted; chain a new one. Oversized requests get a
	// dedicated page.
	pageLen := a.pageSize
	if alignedSize+align > pageLen {
		pageLen = alignedSize + align
	}

	if a.capacity != 0 && a.reserved+pageLen > a.capacity {
		return nil
	}

	a.pages = append(a.pages, make([]byte, pageLen))
	a.reserved += pageLen
	a.offset = 0

	return a.fitCurrent(alignedSize, align)
}

// fitCurrent carves alignedSize bytes out of the last page, or returns nil.
func (a *ArenaAllocator) fitCurrent(alignedSize, align uintptr) unsafe.Pointer {
	if len(a.pages) == 0 {
		return nil
	}

	page := a.pages[len(a.pages)-1]
	base := uintptr(unsafe.Pointer(&page[0]))
	start := alignUp(base+a.offset, align) - base

	if start+alignedSize > uintptr(len(page)) {
		return nil
	}

	ptr := unsafe.Pointer(&page[start])
	a.offset = start + alignedSize
	a.totalAllocated += alignedSize
	a.allocationCount++

	if used := a.used(); used > a.peakUsage {
		a.peakUsage = used
	}

	return ptr
}

// Free is a no-op for arena memory; the arena accepts it silently. Pointers
// from another allocator are rejected.
func (a *ArenaAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if !a.Owns(ptr) {
		return errors.AllocatorMismatch("arena Free")
	}

	return nil
}

// Realloc allocates a new block and copies min(oldSize, newSize) bytes; the
// old block is logically freed (arena pages cannot grow in place).
func (a *ArenaAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return a.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, a.Free(ptr)
	}

	if !a.Owns(ptr) {
		return nil, errors.AllocatorMismatch("arena Realloc")
	}

	newPtr, err := a.Alloc(Sized(newSize))
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

// Reset drops every page and resets the cursor. All outstanding pointers
// from this arena become invalid; that is the caller's contract to uphold.
func (a *ArenaAllocator) Reset() error {
	if a.destroyed {
		panic("allocator: arena used after Destroy")
	}

	a.totalFreed += a.used()
	a.pages = nil
	a.offset = 0
	a.reserved = 0

	return nil
}

// Owns reports whether ptr points into one of the arena's pages.
func (a *ArenaAllocator) Owns(ptr unsafe.Pointer) bool {
	for _, page := range a.pages {
		if sliceContains(page, ptr) {
			return true
		}
	}

	return false
}

// Destroy releases every page and invalidates the arena.
func (a *ArenaAllocator) Destroy() {
	a.pages = nil
	a.reserved = 0
	a.offset = 0
	a.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (a *ArenaAllocator) TotalAllocated() uintptr { return a.totalAllocated }

// TotalFreed returns bytes reclaimed by Reset.
func (a *ArenaAllocator) TotalFreed() uintptr { return a.totalFreed }

// ActiveAllocations returns the cumulative allocation count; the arena does
// not track individual releases.
func (a *ArenaAllocator) ActiveAllocations() int { return int(a.allocationCount) }

// used returns the bytes consumed across all pages, including padding.
func (a *ArenaAllocator) used() uintptr {
	if len(a.pages) == 0 {
		return 0
	}

	used := a.offset
	for _, page := range a.pages[:len(a.pages)-1] {
		used += uintptr(len(page))
	}

	return used
}

// Stats returns allocation statistics.
func (a *ArenaAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		TotalAllocated:    a.totalAllocated,
		TotalFreed:        a.totalFreed,
		ActiveAllocations: int(a.allocationCount),
		PeakAllocations:   int(a.allocationCount),
		AllocationCount:   a.allocationCount,
		BytesInUse:        a.used(),
		Capacity:          a.capacity,
	}
}

// Available returns the bytes left before the capacity limit, or the space
// left in the current page for unbounded arenas.
func (a *ArenaAllocator) Available() uintptr {
	if a.capacity != 0 {
		return a.capacity - a.reserved + (a.currentPageLen() - a.offset)
	}

	return a.currentPageLen() - a.offset
}

func (a *ArenaAllocator) currentPageLen() uintptr {
	if len(a.pages) == 0 {
		return 0
	}

	return uintptr(len(a.pages[len(a.pages)-1]))
}
