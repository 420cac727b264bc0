// Package allocator provides memory allocation services for the Lyra runtime.
// It implements the allocator variants compiled code selects between: a
// general-purpose heap, page-chunked arenas, fixed and bump regions, a
// fixed-size object pool, and a caller-supplied custom allocator. All
// variants share one allocation-request and failure-strategy policy.
package allocator

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Kind identifies an allocator variant.
type Kind int

const (
	HeapKind Kind = iota
	ArenaKind
	FixedKind
	PoolKind
	BumpKind
	CustomKind
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case HeapKind:
		return "heap"
	case ArenaKind:
		return "arena"
	case FixedKind:
		return "fixed"
	case PoolKind:
		return "pool"
	case BumpKind:
		return "bump"
	case CustomKind:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Allocator defines the interface for memory allocators.
//
// Every live allocation made through an instance must be released (or bulk
// reclaimed via Reset) through the same instance; Free and Realloc reject
// pointers owned by a different instance with an ALLOCATOR_MISMATCH error.
// Reset invalidates all outstanding pointers from the instance without
// runtime tracking; respecting that is the caller's contract.
//
// Heap allocators are safe for concurrent use. Arena, Fixed, Bump and Pool
// allocators are single-context: sharing one instance across goroutines
// without external synchronization is a caller error.
type Allocator interface {
	Kind() Kind
	Alloc(req Request) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer) error
	Realloc(ptr unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, error)
	Reset() error
	Owns(ptr unsafe.Pointer) bool
	Destroy()
	TotalAllocated() uintptr
	TotalFreed() uintptr
	ActiveAllocations() int
	Stats() AllocatorStats
}

// AllocatorStats provides allocation statistics.
type AllocatorStats struct {
	TotalAllocated    uintptr
	TotalFreed        uintptr
	ActiveAllocations int
	PeakAllocations   int
	AllocationCount   uint64
	FreeCount         uint64
	BytesInUse        uintptr
	Capacity          uintptr
}

// Configuration for allocators.
type Config struct {
	AlignmentSize   uintptr
	MemoryLimit     uintptr
	MmapThreshold   uintptr
	PoolChunkSize   uintptr
	EnableTracking  bool
	EnableDebug     bool
	EnableLeakCheck bool
}

type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		AlignmentSize:   8,
		MemoryLimit:     0,          // unlimited
		MmapThreshold:   128 * 1024, // large heap blocks go straight to the OS
		PoolChunkSize:   64 * 1024,
		EnableTracking:  true,
		EnableDebug:     false,
		EnableLeakCheck: true,
	}
}

// Option functions.
func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.AlignmentSize = alignment }
}

func WithMemoryLimit(limit uintptr) Option {
	return func(c *Config) { c.MemoryLimit = limit }
}

func WithMmapThreshold(threshold uintptr) Option {
	return func(c *Config) { c.MmapThreshold = threshold }
}

func WithPoolChunkSize(size uintptr) Option {
	return func(c *Config) { c.PoolChunkSize = size }
}

func WithTracking(enabled bool) Option {
	return func(c *Config) { c.EnableTracking = enabled }
}

func WithDebug(enabled bool) Option {
	return func(c *Config) { c.EnableDebug = enabled }
}

func WithLeakCheck(enabled bool) Option {
	return func(c *Config) { c.EnableLeakCheck = enabled }
}

func buildConfig(options []Option) *Config {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}

	if config.AlignmentSize == 0 || config.AlignmentSize&(config.AlignmentSize-1) != 0 {
		config.AlignmentSize = 8
	}

	return config
}

// globalAllocator is the process-default allocator, the ambient handle used
// when compiled code does not pass an explicit one.
var globalAllocator atomic.Pointer[Allocator]

// Initialize sets up the process-default allocator.
func Initialize(kind Kind, options ...Option) error {
	var (
		alloc Allocator
		err   error
	)

	switch kind {
	case HeapKind:
		alloc = NewHeap(options...)
	case ArenaKind:
		alloc, err = NewArena(64*1024, 0, options...)
	case FixedKind:
		alloc, err = NewFixed(64*1024*1024, options...)
	case BumpKind:
		alloc, err = NewBump(64*1024*1024, options...)
	default:
		return fmt.Errorf("kind %v cannot be the process-default allocator", kind)
	}

	if err != nil {
		return fmt.Errorf("failed to create %v allocator: %w", kind, err)
	}

	globalAllocator.Store(&alloc)

	return nil
}

// Global returns the process-default allocator, lazily creating a Heap if
// Initialize was never called.
func Global() Allocator {
	if a := globalAllocator.Load(); a != nil {
		return *a
	}

	alloc := Allocator(NewHeap())
	if globalAllocator.CompareAndSwap(nil, &alloc) {
		return alloc
	}

	return *globalAllocator.Load()
}

// GetStats returns process-default allocator statistics.
func GetStats() AllocatorStats {
	return Global().Stats()
}

// Utility functions.

// alignUp aligns a size up to the nearest multiple of alignment.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}

// effectiveAlign resolves a requested alignment against the config default.
func effectiveAlign(requested, fallback uintptr) uintptr {
	if requested == 0 || requested&(requested-1) != 0 {
		return fallback
	}

	return requested
}

// copyMemory copies size bytes from src to dst.
func copyMemory(dst, src unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}

	dstSlice := unsafe.Slice((*byte)(dst), size)
	srcSlice := unsafe.Slice((*byte)(src), size)
	copy(dstSlice, srcSlice)
}

// zeroMemory clears size bytes at ptr.
func zeroMemory(ptr unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}

	clear(unsafe.Slice((*byte)(ptr), size))
}

// sliceContains reports whether ptr points into buf.
func sliceContains(buf []byte, ptr unsafe.Pointer) bool {
	if len(buf) == 0 || ptr == nil {
		return false
	}

	start := uintptr(unsafe.Pointer(&buf[0]))

	return uintptr(ptr) >= start && uintptr(ptr) < start+uintptr(len(buf))
}
