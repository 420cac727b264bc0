// Package buffer implements the typed buffers of the Lyra runtime: a
// growable array and an immutable string, both allocated through an explicit
// or scope-default Allocator and eligible for scope-based release. Indexed
// access is bounds-checked against the element count unless the owning
// execution context's type-safety mode is SafetyNone.
package buffer

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/allocator"
	rterrors "github.com/lyra-lang/lyra/internal/errors"
	"github.com/lyra-lang/lyra/internal/scope"
)

// Array is a growable typed buffer. An Array exclusively owns its backing
// storage; the storage is released exactly once, either via Destroy or via a
// scope cleanup registered with BindScope, never both.
//
// Backing storage is untyped allocator memory, invisible to the garbage
// collector: element types must not contain Go pointers.
type Array[T any] struct {
	ctx      *scope.Context
	alloc    allocator.Allocator
	data     unsafe.Pointer
	count    int
	capacity int
	released bool
}

// NewArray allocates a zero-filled array of count elements. A nil alloc
// selects ctx's default allocator (or the process default when ctx is nil).
func NewArray[T any](ctx *scope.Context, alloc allocator.Allocator, count int) (*Array[T], error) {
	if count < 0 {
		return nil, rterrors.InvalidSize(uintptr(count), "array count")
	}

	alloc = resolveAllocator(ctx, alloc)

	a := &Array[T]{ctx: ctx, alloc: alloc}

	// Zero-size element types have no addressable storage to hand out.
	if a.elemSize() == 0 {
		return nil, rterrors.InvalidSize(0, "array element size")
	}

	if count > 0 {
		ptr, err := alloc.Alloc(allocator.Request{
			Size:  uintptr(count) * a.elemSize(),
			Flags: allocator.FlagZero | allocator.FlagGrowable,
		})
		if err != nil {
			return nil, err
		}

		a.data = ptr
		a.count = count
		a.capacity = count
	}

	return a, nil
}

func resolveAllocator(ctx *scope.Context, alloc allocator.Allocator) allocator.Allocator {
	if alloc != nil {
		return alloc
	}

	if ctx != nil {
		return ctx.DefaultAllocator()
	}

	return allocator.Global()
}

func (a *Array[T]) elemSize() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// checksEnabled consults the owning context's type-safety mode; with no
// context, checks stay on (safety by default).
func (a *Array[T]) checksEnabled() bool {
	return a.ctx == nil || a.ctx.Safety().ChecksEnabled()
}

func (a *Array[T]) elems() []T {
	return unsafe.Slice((*T)(a.data), a.capacity)
}

// Len returns the element count.
func (a *Array[T]) Len() int { return a.count }

// Cap returns the element capacity.
func (a *Array[T]) Cap() int { return a.capacity }

// Get returns the element at index, bounds-checked against Len unless the
// context's safety mode is SafetyNone.
func (a *Array[T]) Get(index int) (T, error) {
	if a.released {
		panic("buffer: array used after Destroy")
	}

	if a.checksEnabled() && (index < 0 || index >= a.count) {
		var zero T
		return zero, rterrors.IndexOutOfBounds(index, a.count)
	}

	return a.elems()[index], nil
}

// Set stores v at index, bounds-checked against Len unless the context's
// safety mode is SafetyNone.
func (a *Array[T]) Set(index int, v T) error {
	if a.released {
		panic("buffer: array used after Destroy")
	}

	if a.checksEnabled() && (index < 0 || index >= a.count) {
		return rterrors.IndexOutOfBounds(index, a.count)
	}

	a.elems()[index] = v

	return nil
}

// GetPtr returns a borrowed pointer to the element at index, or false when
// the index is out of range. The pointer must not be retained past the
// array's lifetime or past a Resize, which may relocate storage.
func (a *Array[T]) GetPtr(index int) (*T, bool) {
	if a.released {
		panic("buffer: array used after Destroy")
	}

	if index < 0 || index >= a.count {
		return nil, false
	}

	return &a.elems()[index], true
}

// Resize adjusts the element count. Growth within capacity zero-fills the
// newly exposed tail; growth beyond capacity reallocates to
// max(2*capacity, newCount) through the original allocator. Shrinking never
// reduces capacity.
func (a *Array[T]) Resize(newCount int) error {
	if a.released {
		panic("buffer: array used after Destroy")
	}

	if newCount < 0 {
		return rterrors.InvalidSize(uintptr(newCount), "array resize")
	}

	if newCount <= a.capacity {
		if newCount > a.count {
			a.zeroRange(a.count, newCount)
		}

		a.count = newCount

		return nil
	}

	newCap := a.capacity * 2
	if newCount > newCap {
		newCap = newCount
	}

	elemSize := a.elemSize()

	newPtr, err := a.alloc.Realloc(a.data,
		uintptr(a.capacity)*elemSize,
		uintptr(newCap)*elemSize)
	if err != nil {
		return err
	}

	a.data = newPtr
	oldCount := a.count
	a.capacity = newCap
	a.count = newCount

	// Realloc preserves only the old contents; the added region may be
	// recycled memory under arena/fixed/bump allocators.
	a.zeroRange(oldCount, newCap)

	return nil
}

func (a *Array[T]) zeroRange(from, to int) {
	if from >= to {
		return
	}

	clear(a.elems()[from:to])
}

// Destroy releases the backing storage through the owning allocator. A
// second Destroy is a DOUBLE_RELEASE error, not a silent no-op.
func (a *Array[T]) Destroy() error {
	if a.released {
		return rterrors.DoubleRelease("array storage")
	}

	a.released = true

	if a.data == nil {
		return nil
	}

	ptr := a.data
	a.data = nil
	a.count = 0
	a.capacity = 0

	return a.alloc.Free(ptr)
}

// BindScope registers the array's release with ctx's current frame, so the
// storage is reclaimed on scope exit.
func (a *Array[T]) BindScope(ctx *scope.Context) {
	ctx.RegisterReleasable(a)
}
