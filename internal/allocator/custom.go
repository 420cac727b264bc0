package allocator

import (
	"fmt"
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// FuncTable is the fixed contract a caller-supplied allocator implements.
// Alloc is mandatory; the rest may be nil, in which case the corresponding
// operation is a no-op (Free, Reset) or emulated via Alloc+copy (Realloc).
// Behavior behind the table is entirely the caller's responsibility.
type FuncTable struct {
	Alloc   func(size, align uintptr) unsafe.Pointer
	Free    func(ptr unsafe.Pointer)
	Realloc func(ptr unsafe.Pointer, oldSize, newSize uintptr) unsafe.Pointer
	Reset   func()
	Owns    func(ptr unsafe.Pointer) bool
}

// CustomAllocator delegates every operation to a caller-supplied FuncTable
// while providing the shared request/failure-strategy policy and statistics.
// Block sizes are remembered by bare address so freed bytes are accounted
// without pinning the caller's memory.
type CustomAllocator struct {
	config          *Config
	table           FuncTable
	sizes           map[uintptr]uintptr
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	freeCount       uint64
	destroyed       bool
}

// NewCustom wraps a caller-supplied function table as an Allocator.
func NewCustom(table FuncTable, options ...Option) (*CustomAllocator, error) {
	if table.Alloc == nil {
		return nil, fmt.Errorf("custom allocator requires an Alloc function")
	}

	return &CustomAllocator{
		config: buildConfig(options),
		table:  table,
		sizes:  make(map[uintptr]uintptr),
	}, nil
}

// Kind returns CustomKind.
func (c *CustomAllocator) Kind() Kind { return CustomKind }

// Alloc delegates to the table through the shared failure policy.
func (c *CustomAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	align := effectiveAlign(req.Align, c.config.AlignmentSize)
	alignedSize := alignUp(req.Size, c.config.AlignmentSize)

	ptr, err := resolveAlloc(req, func() unsafe.Pointer {
		if c.destroyed {
			panic("allocator: custom allocator used after Destroy")
		}

		return c.table.Alloc(alignedSize, align)
	})
	if err != nil {
		return nil, err
	}

	c.sizes[uintptr(ptr)] = alignedSize
	c.totalAllocated += alignedSize
	c.allocationCount++

	return ptr, nil
}

// Free delegates to the table.
func (c *CustomAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if c.table.Owns != nil && !c.table.Owns(ptr) {
		return errors.AllocatorMismatch("custom Free")
	}

	if c.table.Free != nil {
		c.table.Free(ptr)
	}

	if size, ok := c.sizes[uintptr(ptr)]; ok {
		c.totalFreed += size
		delete(c.sizes, uintptr(ptr))
	}

	c.freeCount++

	return nil
}

// Realloc delegates to the table, or emulates it via Alloc+copy+Free when
// the table has no Realloc.
func (c *CustomAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return c.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, c.Free(ptr)
	}

	if c.table.Owns != nil && !c.table.Owns(ptr) {
		return nil, errors.AllocatorMismatch("custom Realloc")
	}

	if c.table.Realloc != nil {
		newPtr := c.table.Realloc(ptr, oldSize, newSize)
		if newPtr == nil {
			return nil, errors.OutOfMemory(newSize)
		}

		if size, ok := c.sizes[uintptr(ptr)]; ok {
			c.totalFreed += size
			delete(c.sizes, uintptr(ptr))
		}

		alignedSize := alignUp(newSize, c.config.AlignmentSize)
		c.sizes[uintptr(newPtr)] = alignedSize
		c.totalAllocated += alignedSize
		c.allocationCount++
		c.freeCount++

		return newPtr, nil
	}

	newPtr, err := c.Alloc(Sized(newSize))
	if err != nil {
		return nil, err
	}

	copySize := oldSize
	if newSize < oldSize {
		copySize = newSize
	}

	copyMemory(newPtr, ptr, copySize)

	return newPtr, c.Free(ptr)
}

// Reset delegates to the table when supported; a delegated reset reclaims
// every outstanding block.
func (c *CustomAllocator) Reset() error {
	if c.table.Reset == nil {
		return nil
	}

	c.table.Reset()

	for _, size := range c.sizes {
		c.totalFreed += size
	}
	clear(c.sizes)

	return nil
}

// Owns delegates to the table; without an Owns function every pointer is
// assumed to belong to the caller's allocator.
func (c *CustomAllocator) Owns(ptr unsafe.Pointer) bool {
	if c.table.Owns != nil {
		return c.table.Owns(ptr)
	}

	return ptr != nil
}

// Destroy resets the underlying allocator and invalidates the wrapper.
func (c *CustomAllocator) Destroy() {
	if c.table.Reset != nil {
		c.table.Reset()
	}

	c.sizes = nil
	c.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (c *CustomAllocator) TotalAllocated() uintptr { return c.totalAllocated }

// TotalFreed returns total freed bytes.
func (c *CustomAllocator) TotalFreed() uintptr { return c.totalFreed }

// ActiveAllocations returns alloc minus free counts.
func (c *CustomAllocator) ActiveAllocations() int {
	return int(c.allocationCount - c.freeCount)
}

// Stats returns allocation statistics.
func (c *CustomAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		TotalAllocated:    c.totalAllocated,
		TotalFreed:        c.totalFreed,
		ActiveAllocations: int(c.allocationCount - c.freeCount),
		AllocationCount:   c.allocationCount,
		FreeCount:         c.freeCount,
	}
}
