package allocator

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// PoolAllocator serves fixed-size objects from a free list, carving new
// chunks from the Go heap when the list runs dry. Only requests of the
// configured object size are satisfied; anything else is a caller error.
// A capacity limit (in objects) makes exhaustion fail with OUT_OF_MEMORY
// instead of growing. Not safe for concurrent use.
type PoolAllocator struct {
	config          *Config
	objectSize      uintptr // caller-visible object size
	blockSize       uintptr // objectSize aligned up
	capacity        int     // max objects, 0 = unbounded
	chunks          [][]byte
	freeList        []unsafe.Pointer
	freeSet         map[unsafe.Pointer]struct{}
	totalObjects    int
	totalAllocated  uintptr
	totalFreed      uintptr
	allocationCount uint64
	freeCount       uint64
	destroyed       bool
}

// NewPool creates a pool for objects of objectSize bytes with an optional
// object-count capacity (0 means the pool grows without bound).
func NewPool(objectSize uintptr, capacity int, options ...Option) (*PoolAllocator, error) {
	if objectSize == 0 {
		return nil, errors.InvalidSize(objectSize, "pool object size")
	}

	config := buildConfig(options)

	return &PoolAllocator{
		config:     config,
		objectSize: objectSize,
		blockSize:  alignUp(objectSize, config.AlignmentSize),
		capacity:   capacity,
		freeSet:    make(map[unsafe.Pointer]struct{}),
	}, nil
}

// Kind returns PoolKind.
func (p *PoolAllocator) Kind() Kind { return PoolKind }

// ObjectSize returns the configured object size.
func (p *PoolAllocator) ObjectSize() uintptr { return p.objectSize }

// Alloc pops a block from the free list, growing the pool by one chunk when
// empty. The request size must equal the configured object size.
func (p *PoolAllocator) Alloc(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, nil
	}

	if req.Size != p.objectSize {
		return nil, errors.InvalidSize(req.Size, "pool Alloc (object size mismatch)")
	}

	return resolveAlloc(req, p.tryAlloc)
}

func (p *PoolAllocator) tryAlloc() unsafe.Pointer {
	if p.destroyed {
		panic("allocator: pool used after Destroy")
	}

	if len(p.freeList) == 0 {
		if !p.growChunk() {
			return nil
		}
	}

	ptr := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	delete(p.freeSet, ptr)

	p.totalAllocated += p.blockSize
	p.allocationCount++

	return ptr
}

// growChunk adds one chunk of blocks, honoring the object-count capacity.
// Reports whether any block was added.
func (p *PoolAllocator) growChunk() bool {
	blocksPerChunk := int(p.config.PoolChunkSize / p.blockSize)
	if blocksPerChunk == 0 {
		blocksPerChunk = 1
	}

	if p.capacity > 0 {
		remaining := p.capacity - p.totalObjects
		if remaining <= 0 {
			return false
		}

		if blocksPerChunk > remaining {
			blocksPerChunk = remaining
		}
	}

	chunk := make([]byte, uintptr(blocksPerChunk)*p.blockSize)
	p.chunks = append(p.chunks, chunk)

	for i := 0; i < blocksPerChunk; i++ {
		ptr := unsafe.Pointer(&chunk[uintptr(i)*p.blockSize])
		p.freeList = append(p.freeList, ptr)
		p.freeSet[ptr] = struct{}{}
	}

	p.totalObjects += blocksPerChunk

	return true
}

// Free pushes a block back onto the free list. Re-freeing a block already on
// the list is a DOUBLE_RELEASE error; a pointer from another allocator is an
// ALLOCATOR_MISMATCH error.
func (p *PoolAllocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	if p.destroyed {
		panic("allocator: pool used after Destroy")
	}

	if !p.Owns(ptr) {
		return errors.AllocatorMismatch("pool Free")
	}

	if _, free := p.freeSet[ptr]; free {
		return errors.DoubleRelease("pool block")
	}

	p.freeList = append(p.freeList, ptr)
	p.freeSet[ptr] = struct{}{}
	p.totalFreed += p.blockSize
	p.freeCount++

	return nil
}

// Realloc allocates a new block and copies min(oldSize, newSize) bytes; the
// old block returns to the free list. The new size must still match the
// configured object size.
func (p *PoolAllocator) Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error) {
	if ptr == nil {
		return p.Alloc(Sized(newSize))
	}

	if newSize == 0 {
		return nil, p.Free(ptr)
	}

	if newSize != p.objectSize {
		return nil, errors.InvalidSize(newSize, "pool Realloc (object size mismatch)")
	}

	if !p.Owns(ptr) {
		return nil, errors.AllocatorMismatch("pool Realloc")
	}

	newPtr, err := p.Alloc(Sized(newSize))
	if err != nil {
		return nil, err
	}

	copySize := oldSize
	if newSize < oldSize {
		copySize = newSize
	}

	copyMemory(newPtr, ptr, copySize)

	if err := p.Free(ptr); err != nil {
		return nil, err
	}

	return newPtr, nil
}

// Reset marks every chunk fully free. All outstanding blocks from this pool
// become invalid; that is the caller's contract to uphold.
func (p *PoolAllocator) Reset() error {
	if p.destroyed {
		panic("allocator: pool used after Destroy")
	}

	p.freeList = p.freeList[:0]
	p.freeSet = make(map[unsafe.Pointer]struct{}, p.totalObjects)

	for _, chunk := range p.chunks {
		blocks := uintptr(len(chunk)) / p.blockSize
		for i := uintptr(0); i < blocks; i++ {
			ptr := unsafe.Pointer(&chunk[i*p.blockSize])
			p.freeList = append(p.freeList, ptr)
			p.freeSet[ptr] = struct{}{}
		}
	}

	return nil
}

// Owns reports whether ptr is a block boundary inside one of the pool's
// chunks.
func (p *PoolAllocator) Owns(ptr unsafe.Pointer) bool {
	for _, chunk := range p.chunks {
		if !sliceContains(chunk, ptr) {
			continue
		}

		offset := uintptr(ptr) - uintptr(unsafe.Pointer(&chunk[0]))

		return offset%p.blockSize == 0
	}

	return false
}

// Destroy releases every chunk and invalidates the pool.
func (p *PoolAllocator) Destroy() {
	p.chunks = nil
	p.freeList = nil
	p.freeSet = nil
	p.totalObjects = 0
	p.destroyed = true
}

// TotalAllocated returns total allocated bytes.
func (p *PoolAllocator) TotalAllocated() uintptr { return p.totalAllocated }

// TotalFreed returns total freed bytes.
func (p *PoolAllocator) TotalFreed() uintptr { return p.totalFreed }

// ActiveAllocations returns the number of blocks currently handed out.
func (p *PoolAllocator) ActiveAllocations() int {
	return p.totalObjects - len(p.freeList)
}

// Stats returns allocation statistics.
func (p *PoolAllocator) Stats() AllocatorStats {
	return AllocatorStats{
		TotalAllocated:    p.totalAllocated,
		TotalFreed:        p.totalFreed,
		ActiveAllocations: p.totalObjects - len(p.freeList),
		AllocationCount:   p.allocationCount,
		FreeCount:         p.freeCount,
		BytesInUse:        uintptr(p.totalObjects-len(p.freeList)) * p.blockSize,
		Capacity:          uintptr(p.capacity) * p.blockSize,
	}
}

// FreeObjects returns the number of blocks on the free list.
func (p *PoolAllocator) FreeObjects() int { return len(p.freeList) }
