package allocator

import (
	"testing"
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// TestPoolAllocator tests the fixed-size object pool.
func TestPoolAllocator(t *testing.T) {
	t.Run("AllocFreeReuse", func(t *testing.T) {
		pool, err := NewPool(32, 0)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		ptr, err := pool.Alloc(Sized(32))
		if err != nil {
			t.Fatalf("Allocation failed: %v", err)
		}

		if err := pool.Free(ptr); err != nil {
			t.Fatalf("Free failed: %v", err)
		}

		again, err := pool.Alloc(Request{Size: 32, Flags: FlagZero})
		if err != nil {
			t.Fatalf("Reallocation failed: %v", err)
		}

		if again != ptr {
			t.Error("Free list should hand back the released block first")
		}

		data := unsafe.Slice((*byte)(again), 32)
		for i, b := range data {
			if b != 0 {
				t.Fatalf("Recycled byte %d not zeroed: %d", i, b)
			}
		}
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		pool, err := NewPool(32, 0)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		_, err = pool.Alloc(Sized(16))
		if !errors.IsInvalidSize(err) {
			t.Errorf("Expected INVALID_SIZE for mismatched request, got %v", err)
		}
	})

	t.Run("CapacityExhaustion", func(t *testing.T) {
		pool, err := NewPool(32, 4)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		ptrs := make([]unsafe.Pointer, 4)
		for i := range ptrs {
			ptr, err := pool.Alloc(Sized(32))
			if err != nil {
				t.Fatalf("Allocation %d failed: %v", i, err)
			}
			ptrs[i] = ptr
		}

		_, err = pool.Alloc(Sized(32))
		if !errors.IsOutOfMemory(err) {
			t.Errorf("Expected OUT_OF_MEMORY at pool capacity, got %v", err)
		}

		// Freeing one block makes room without growing.
		if err := pool.Free(ptrs[0]); err != nil {
			t.Fatalf("Free failed: %v", err)
		}

		if _, err := pool.Alloc(Sized(32)); err != nil {
			t.Fatalf("Allocation after free failed: %v", err)
		}
	})

	t.Run("DoubleRelease", func(t *testing.T) {
		pool, err := NewPool(32, 0)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		ptr, err := pool.Alloc(Sized(32))
		if err != nil {
			t.Fatalf("Allocation failed: %v", err)
		}

		if err := pool.Free(ptr); err != nil {
			t.Fatalf("First free failed: %v", err)
		}

		err = pool.Free(ptr)
		if !errors.IsDoubleRelease(err) {
			t.Errorf("Expected DOUBLE_RELEASE, got %v", err)
		}
	})

	t.Run("ForeignPointerRejected", func(t *testing.T) {
		pool, err := NewPool(32, 0)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		var local byte
		err = pool.Free(unsafe.Pointer(&local))
		if !errors.IsAllocatorMismatch(err) {
			t.Errorf("Expected ALLOCATOR_MISMATCH, got %v", err)
		}
	})

	t.Run("ResetFreesAllChunks", func(t *testing.T) {
		pool, err := NewPool(32, 8)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}

		for i := 0; i < 8; i++ {
			if _, err := pool.Alloc(Sized(32)); err != nil {
				t.Fatalf("Allocation %d failed: %v", i, err)
			}
		}

		if err := pool.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}

		if free := pool.FreeObjects(); free != 8 {
			t.Errorf("FreeObjects after reset = %d, want 8", free)
		}

		if active := pool.ActiveAllocations(); active != 0 {
			t.Errorf("ActiveAllocations after reset = %d, want 0", active)
		}
	})
}

// TestCustomAllocator tests delegation to a caller-supplied function table.
func TestCustomAllocator(t *testing.T) {
	t.Run("Delegation", func(t *testing.T) {
		backing := make([]byte, 4096)
		cursor := uintptr(0)
		resets := 0

		table := FuncTable{
			Alloc: func(size, align uintptr) unsafe.Pointer {
				start := alignUp(cursor, align)
				if start+size > uintptr(len(backing)) {
					return nil
				}
				cursor = start + size
				return unsafe.Pointer(&backing[start])
			},
			Reset: func() {
				cursor = 0
				resets++
			},
			Owns: func(ptr unsafe.Pointer) bool {
				return sliceContains(backing, ptr)
			},
		}

		custom, err := NewCustom(table)
		if err != nil {
			t.Fatalf("Failed to create custom allocator: %v", err)
		}

		ptr, err := custom.Alloc(Sized(128))
		if err != nil {
			t.Fatalf("Allocation failed: %v", err)
		}
		if !custom.Owns(ptr) {
			t.Error("Custom allocator should own its allocation")
		}

		var local byte
		if err := custom.Free(unsafe.Pointer(&local)); !errors.IsAllocatorMismatch(err) {
			t.Errorf("Expected ALLOCATOR_MISMATCH, got %v", err)
		}

		if err := custom.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		if resets != 1 {
			t.Errorf("Reset delegated %d times, want 1", resets)
		}
	})

	t.Run("ExhaustionFollowsStrategy", func(t *testing.T) {
		table := FuncTable{
			Alloc: func(size, align uintptr) unsafe.Pointer { return nil },
		}

		custom, err := NewCustom(table)
		if err != nil {
			t.Fatalf("Failed to create custom allocator: %v", err)
		}

		_, err = custom.Alloc(Sized(64))
		if !errors.IsOutOfMemory(err) {
			t.Errorf("Expected OUT_OF_MEMORY, got %v", err)
		}
	})

	t.Run("FreedBytesAccounted", func(t *testing.T) {
		backing := make([]byte, 1024)
		cursor := uintptr(0)

		table := FuncTable{
			Alloc: func(size, align uintptr) unsafe.Pointer {
				start := alignUp(cursor, align)
				if start+size > uintptr(len(backing)) {
					return nil
				}
				cursor = start + size
				return unsafe.Pointer(&backing[start])
			},
			Owns: func(ptr unsafe.Pointer) bool {
				return sliceContains(backing, ptr)
			},
		}

		custom, err := NewCustom(table)
		if err != nil {
			t.Fatalf("Failed to create custom allocator: %v", err)
		}

		ptr, err := custom.Alloc(Sized(64))
		if err != nil {
			t.Fatalf("Allocation failed: %v", err)
		}

		if err := custom.Free(ptr); err != nil {
			t.Fatalf("Free failed: %v", err)
		}

		if custom.TotalFreed() != custom.TotalAllocated() {
			t.Errorf("TotalFreed = %d, want %d", custom.TotalFreed(), custom.TotalAllocated())
		}

		if stats := custom.Stats(); stats.TotalFreed == 0 || stats.FreeCount != 1 {
			t.Errorf("Stats not updated on free: %+v", stats)
		}
	})

	t.Run("AllocRequired", func(t *testing.T) {
		if _, err := NewCustom(FuncTable{}); err == nil {
			t.Error("Expected error for table without Alloc")
		}
	})

	t.Run("EmulatedRealloc", func(t *testing.T) {
		backing := make([]byte, 4096)
		cursor := uintptr(0)

		table := FuncTable{
			Alloc: func(size, align uintptr) unsafe.Pointer {
				start := alignUp(cursor, align)
				if start+size > uintptr(len(backing)) {
					return nil
				}
				cursor = start + size
				return unsafe.Pointer(&backing[start])
			},
			Owns: func(ptr unsafe.Pointer) bool {
				return sliceContains(backing, ptr)
			},
		}

		custom, err := NewCustom(table)
		if err != nil {
			t.Fatalf("Failed to create custom allocator: %v", err)
		}

		ptr, err := custom.Alloc(Sized(64))
		if err != nil {
			t.Fatalf("Allocation failed: %v", err)
		}

		data := unsafe.Slice((*byte)(ptr), 64)
		for i := range data {
			data[i] = byte(i)
		}

		newPtr, err := custom.Realloc(ptr, 64, 128)
		if err != nil {
			t.Fatalf("Realloc failed: %v", err)
		}

		newData := unsafe.Slice((*byte)(newPtr), 128)
		for i := 0; i < 64; i++ {
			if newData[i] != byte(i) {
				t.Fatalf("Content lost at index %d", i)
			}
		}
	})
}
