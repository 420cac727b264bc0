package allocator

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// HeapAllocator is the general-purpose allocator. Small blocks come from the
// Go heap; blocks at or above the mmap threshold are mapped directly from the
// OS where the platform supports it. Safe for concurrent use.
type HeapAllocator struct {
	config          *Config
	blocks          map[unsafe.Pointer]heapBlock
	released        map[uintptr]struct{}
	active          map[unsafe.Pointer]*AllocationInfo
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	freeCount       uint64
	peakAllocations int
	destroyed       bool
	mu              sync.RWMutex
}

// heapBlock records the backing buffer of one live allocation. The buffer
// reference keeps Go-heap blocks reachable while a raw pointer into them is
// outstanding.
type heapBlock struct {
	buf    []byte
	size   uintptr
	mapped bool
}

// releasedLimit bounds the double-release detection window. The released set
// is keyed by bare address, never by pointer, so it cannot keep freed backing
// buffers reachable; dropping it wholesale when full keeps it from growing
// one entry per free forever.
const releasedLimit = 1 << 14

// AllocationInfo is per-allocation tracking metadata.
type AllocationInfo struct {
	StackTrace []uintptr
	Size       uintptr
	Flags      AllocFlags
	Timestamp  int64
}

// NewHeap creates a new heap allocator.
func NewHeap(options ...Option) *HeapAllocator {
	return &HeapAllocator{
		config:   buildConfig(options),
		blocks:   make(map[unsafe.Pointer]heapBlock),
		released: make(map[uintptr]struct{}),
		active:   make(map[unsafe.Pointer]*AllocationInfo),
	}
}

// Kind returns HeapKind.
func (h *HeapAllocator) Kind() Kind { return HeapKind }

// Alloc allocates size bytes aligned to the request alignment.
func (h *HeapAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	align := effectiveAlign(req.Align, h.config.AlignmentSize)
	alignedSize := alignUp(req.Size, h.config.AlignmentSize)

	return resolveAlloc(req, func() unsafe.Pointer {
		return h.tryAlloc(alignedSize, align, req.Flags)
	})
}

// tryAlloc performs one raw allocation attempt. Returns nil when the memory
// limit would be exceeded.
func (h *HeapAllocator) tryAlloc(alignedSize, align uintptr, flags AllocFlags) unsafe.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		panic("allocator: heap used after Destroy")
	}

	if h.config.MemoryLimit > 0 {
		inUse := atomic.LoadUintptr(&h.totalAllocated) - atomic.LoadUintptr(&h.totalFreed)
		if inUse+alignedSize > h.config.MemoryLimit {
			return nil
		}
	}

	// Over-allocate by the alignment so an aligned interior pointer always
	// exists; mmap regions are page-aligned already.
	var (
		buf    []byte
		mapped bool
	)

	if alignedSize >= h.config.MmapThreshold {
		if b, err := mmapAlloc(alignedSize); err == nil {
			buf, mapped = b, true
		}
	}

	if buf == nil {
		buf = make([]byte, alignedSize+align)
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	offset := alignUp(base, align) - base
	ptr := unsafe.Pointer(&buf[offset])

	h.blocks[ptr] = heapBlock{buf: buf, size: alignedSize, mapped: mapped}
	delete(h.released, uintptr(ptr))

	if h.config.EnableTracking {
		info := &AllocationInfo{
			Size:      alignedSize,
			Flags:     flags,
			Timestamp: time.Now().UnixNano(),
		}
		if h.config.EnableDebug {
			info.StackTrace = captureStackTrace()
		}

		h.active[ptr] = info
		if len(h.active) > h.peakAllocations {
			h.peakAllocations = len(h.active)
		}
	}

	atomic.AddUintptr(&h.totalAllocated, alignedSize)
	atomic.AddUint64(&h.allocationCount, 1)

	return ptr
}

// Free releases a block obtained from this heap. Releasing a pointer this
// heap never produced is an ALLOCATOR_MISMATCH error; releasing the same
// pointer twice is a DOUBLE_RELEASE error.
func (h *HeapAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		panic("allocator: heap used after Destroy")
	}

	block, ok := h.blocks[ptr]
	if !ok {
		if _, was := h.released[uintptr(ptr)]; was {
			return errors.DoubleRelease("heap allocation")
		}

		return errors.AllocatorMismatch("heap Free")
	}

	delete(h.blocks, ptr)
	delete(h.active, ptr)

	if len(h.released) >= releasedLimit {
		clear(h.released)
	}
	h.released[uintptr(ptr)] = struct{}{}

	if block.mapped {
		mmapFree(block.buf)
	}

	atomic.AddUintptr(&h.totalFreed, block.size)
	atomic.AddUint64(&h.freeCount, 1)

	return nil
}

// Realloc moves an allocation to newSize bytes, preserving min(oldSize,
// newSize) bytes of content.
func (h *HeapAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return h.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, h.Free(ptr)
	}

	if !h.Owns(ptr) {
		return nil, errors.AllocatorMismatch("heap Realloc")
	}

	newPtr, err := h.Alloc(Sized(newSize))
	if err != nil {
		return nil, err
	}

	copySize := oldSize
	if newSize < oldSize {
		copySize = newSize
	}

	copyMemory(newPtr, ptr, copySize)

	if err := h.Free(ptr); err != nil {
		return nil, err
	}

	return newPtr, nil
}

// Reset is a no-op for the heap allocator.
func (h *HeapAllocator) Reset() error { return nil }

// Owns reports whether ptr is a live allocation of this heap.
func (h *HeapAllocator) Owns(ptr unsafe.Pointer) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.blocks[ptr]

	return ok
}

// Destroy invalidates all outstanding allocations and unmaps OS-backed
// blocks. Further use of the heap panics.
func (h *HeapAllocator) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.destroyed {
		return
	}

	for _, block := range h.blocks {
		if block.mapped {
			mmapFree(block.buf)
		}
	}

	h.blocks = nil
	h.active = nil
	h.released = nil
	h.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (h *HeapAllocator) TotalAllocated() uintptr {
	return atomic.LoadUintptr(&h.totalAllocated)
}

// TotalFreed returns total freed bytes.
func (h *HeapAllocator) TotalFreed() uintptr {
	return atomic.LoadUintptr(&h.totalFreed)
}

// ActiveAllocations returns the number of live allocations.
func (h *HeapAllocator) ActiveAllocations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.blocks)
}

// Stats returns allocation statistics.
func (h *HeapAllocator) Stats() AllocatorStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	allocated := atomic.LoadUintptr(&h.totalAllocated)
	freed := atomic.LoadUintptr(&h.totalFreed)

	return AllocatorStats{
		TotalAllocated:    allocated,
		TotalFreed:        freed,
		ActiveAllocations: len(h.blocks),
		PeakAllocations:   h.peakAllocations,
		AllocationCount:   atomic.LoadUint64(&h.allocationCount),
		FreeCount:         atomic.LoadUint64(&h.freeCount),
		BytesInUse:        allocated - freed,
		Capacity:          h.config.MemoryLimit,
	}
}

// Memory leak detection.

// LeakInfo represents one unreleased allocation.
type LeakInfo struct {
	Pointer    unsafe.Pointer
	StackTrace []uintptr
	Size       uintptr
	Timestamp  int64
}

// CheckLeaks returns every allocation still live on this heap.
func (h *HeapAllocator) CheckLeaks() []LeakInfo {
	if !h.config.EnableLeakCheck || !h.config.EnableTracking {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var leaks []LeakInfo
	for ptr, info := range h.active {
		leaks = append(leaks, LeakInfo{
			Pointer:    ptr,
			Size:       info.Size,
			Timestamp:  info.Timestamp,
			StackTrace: info.StackTrace,
		})
	}

	return leaks
}

// FormatLeaks formats leak information for display.
func FormatLeaks(leaks []LeakInfo) string {
	if len(leaks) == 0 {
		return "No memory leaks detected"
	}

	result := fmt.Sprintf("Detected %d memory leaks:\n", len(leaks))
	for i, leak := range leaks {
		result += fmt.Sprintf("  Leak %d: %d bytes at %p\n", i+1, leak.Size, leak.Pointer)
		if len(leak.StackTrace) > 0 {
			result += "    Stack trace:\n"
			frames := runtime.CallersFrames(leak.StackTrace)

			for {
				frame, more := frames.Next()
				result += fmt.Sprintf("      %s:%d %s\n", frame.File, frame.Line, frame.Function)

				if !more {
					break
				}
			}
		}
	}

	return result
}

// captureStackTrace captures the current stack trace.
func captureStackTrace() []uintptr {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	return pcs[:n]
}
