package buffer

import (
	"bytes"
	"testing"

	"github.com/lyra-lang/lyra/internal/allocator"
	rterrors "github.com/lyra-lang/lyra/internal/errors"
	"github.com/lyra-lang/lyra/internal/scope"
)

// TestArray tests creation, indexed access and bounds checking.
func TestArray(t *testing.T) {
	heap := allocator.NewHeap()

	t.Run("CreateSetGet", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 5)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		if err := arr.Set(4, 42); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		v, err := arr.Get(4)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if v != 42 {
			t.Errorf("Get(4) = %d, want 42", v)
		}
	})

	t.Run("ZeroInitialized", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 5)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		for i := 0; i < 5; i++ {
			v, err := arr.Get(i)
			if err != nil {
				t.Fatalf("Get(%d) failed: %v", i, err)
			}
			if v != 0 {
				t.Errorf("Get(%d) = %d, want 0", i, v)
			}
		}
	})

	t.Run("BoundsChecked", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 5)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		if _, err := arr.Get(5); !rterrors.IsIndexOutOfBounds(err) {
			t.Errorf("Get(5) expected INDEX_OUT_OF_BOUNDS, got %v", err)
		}

		if err := arr.Set(5, 1); !rterrors.IsIndexOutOfBounds(err) {
			t.Errorf("Set(5) expected INDEX_OUT_OF_BOUNDS, got %v", err)
		}

		if _, err := arr.Get(-1); !rterrors.IsIndexOutOfBounds(err) {
			t.Errorf("Get(-1) expected INDEX_OUT_OF_BOUNDS, got %v", err)
		}
	})

	t.Run("ZeroSizeElementRejected", func(t *testing.T) {
		if _, err := NewArray[struct{}](nil, heap, 3); !rterrors.IsInvalidSize(err) {
			t.Errorf("Expected INVALID_SIZE for a zero-size element type, got %v", err)
		}
	})

	t.Run("GetPtr", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 3)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		if err := arr.Set(1, 7); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		p, ok := arr.GetPtr(1)
		if !ok {
			t.Fatal("GetPtr(1) reported not found")
		}
		if *p != 7 {
			t.Errorf("*GetPtr(1) = %d, want 7", *p)
		}

		*p = 9
		if v, _ := arr.Get(1); v != 9 {
			t.Errorf("Write through borrowed pointer not visible: %d", v)
		}

		if _, ok := arr.GetPtr(3); ok {
			t.Error("GetPtr(3) should report not found")
		}
	})

	t.Run("EmptyArray", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 0)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		if arr.Len() != 0 || arr.Cap() != 0 {
			t.Errorf("Empty array len=%d cap=%d", arr.Len(), arr.Cap())
		}

		if _, err := arr.Get(0); !rterrors.IsIndexOutOfBounds(err) {
			t.Errorf("Get(0) on empty array expected INDEX_OUT_OF_BOUNDS, got %v", err)
		}
	})
}

// TestArrayResize tests the doubling growth rule and tail zero-fill.
func TestArrayResize(t *testing.T) {
	heap := allocator.NewHeap()

	t.Run("GrowBeyondCapacity", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 5)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		for i := 0; i < 5; i++ {
			if err := arr.Set(i, int32(i+1)); err != nil {
				t.Fatalf("Set(%d) failed: %v", i, err)
			}
		}

		// max(2*5, 11) = 11.
		if err := arr.Resize(11); err != nil {
			t.Fatalf("Resize failed: %v", err)
		}

		if arr.Len() != 11 {
			t.Errorf("Len = %d, want 11", arr.Len())
		}
		if arr.Cap() < 11 {
			t.Errorf("Cap = %d, want >= 11", arr.Cap())
		}

		// Original content survives relocation.
		for i := 0; i < 5; i++ {
			if v, _ := arr.Get(i); v != int32(i+1) {
				t.Errorf("Get(%d) = %d after grow, want %d", i, v, i+1)
			}
		}

		// Newly exposed elements read as zero until written.
		for i := 5; i < 11; i++ {
			if v, _ := arr.Get(i); v != 0 {
				t.Errorf("Get(%d) = %d after grow, want 0", i, v)
			}
		}
	})

	t.Run("ShrinkKeepsCapacity", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 8)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		if err := arr.Resize(3); err != nil {
			t.Fatalf("Shrink failed: %v", err)
		}

		if arr.Len() != 3 {
			t.Errorf("Len = %d, want 3", arr.Len())
		}
		if arr.Cap() != 8 {
			t.Errorf("Cap = %d, want 8 (shrink never reduces capacity)", arr.Cap())
		}
	})

	t.Run("RegrowWithinCapacityZeroFills", func(t *testing.T) {
		arr, err := NewArray[int32](nil, heap, 6)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer arr.Destroy()

		for i := 0; i < 6; i++ {
			if err := arr.Set(i, 99); err != nil {
				t.Fatalf("Set(%d) failed: %v", i, err)
			}
		}

		if err := arr.Resize(2); err != nil {
			t.Fatalf("Shrink failed: %v", err)
		}
		if err := arr.Resize(6); err != nil {
			t.Fatalf("Regrow failed: %v", err)
		}

		// The re-exposed tail must read as zero, not stale 99s.
		for i := 2; i < 6; i++ {
			if v, _ := arr.Get(i); v != 0 {
				t.Errorf("Get(%d) = %d after regrow, want 0", i, v)
			}
		}
	})

	t.Run("GrowThroughArena", func(t *testing.T) {
		arena, err := allocator.NewArena(64*1024, 0)
		if err != nil {
			t.Fatalf("Failed to create arena: %v", err)
		}

		arr, err := NewArray[int32](nil, arena, 4)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if err := arr.Set(0, 5); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if err := arr.Resize(100); err != nil {
			t.Fatalf("Resize through arena failed: %v", err)
		}

		if v, _ := arr.Get(0); v != 5 {
			t.Errorf("Get(0) = %d after arena grow, want 5", v)
		}
		if v, _ := arr.Get(99); v != 0 {
			t.Errorf("Get(99) = %d after arena grow, want 0", v)
		}
	})
}

// TestArraySafetyMode tests bounds-check gating by the context's mode.
func TestArraySafetyMode(t *testing.T) {
	heap := allocator.NewHeap()
	ctx := scope.NewContext()

	arr, err := NewArray[int32](ctx, heap, 4)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer arr.Destroy()

	if err := arr.Resize(2); err != nil {
		t.Fatalf("Shrink failed: %v", err)
	}

	// Checked: index beyond count is rejected.
	if _, err := arr.Get(3); !rterrors.IsIndexOutOfBounds(err) {
		t.Errorf("Expected INDEX_OUT_OF_BOUNDS with checks on, got %v", err)
	}

	// Unchecked: the same access passes straight through to storage.
	ctx.SetSafety(scope.SafetyNone)

	if _, err := arr.Get(3); err != nil {
		t.Errorf("SafetyNone should skip the count check, got %v", err)
	}
	if err := arr.Set(3, 1); err != nil {
		t.Errorf("SafetyNone should skip the count check, got %v", err)
	}
}

// TestArrayDoubleDestroy tests release-exactly-once enforcement.
func TestArrayDoubleDestroy(t *testing.T) {
	heap := allocator.NewHeap()

	arr, err := NewArray[int32](nil, heap, 4)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := arr.Destroy(); err != nil {
		t.Fatalf("First destroy failed: %v", err)
	}

	err = arr.Destroy()
	if !rterrors.IsDoubleRelease(err) {
		t.Errorf("Expected DOUBLE_RELEASE, got %v", err)
	}
}

// TestArrayScopeRelease tests scope-registered release of backing storage.
func TestArrayScopeRelease(t *testing.T) {
	heap := allocator.NewHeap()
	ctx := scope.NewContext()

	if err := ctx.Enter(); err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	arr, err := NewArray[int32](ctx, heap, 4)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	arr.BindScope(ctx)

	before := heap.ActiveAllocations()

	if err := ctx.Exit(); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}

	if after := heap.ActiveAllocations(); after != before-1 {
		t.Errorf("Scope exit did not release storage: %d -> %d", before, after)
	}

	// Storage was released by the scope; a manual destroy is a double
	// release, never a second free.
	if err := arr.Destroy(); !rterrors.IsDoubleRelease(err) {
		t.Errorf("Expected DOUBLE_RELEASE, got %v", err)
	}
}

// TestArrayDefaultAllocator tests the scope-default allocator path.
func TestArrayDefaultAllocator(t *testing.T) {
	arena, err := allocator.NewArena(4096, 0)
	if err != nil {
		t.Fatalf("Failed to create arena: %v", err)
	}

	ctx := scope.NewContext(scope.WithDefaultAllocator(arena))

	if _, err := NewArray[int32](ctx, nil, 8); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if arena.Stats().AllocationCount != 1 {
		t.Error("Array without explicit allocator should use the scope default")
	}
}

// TestStr tests string creation, interop terminator and round-trips.
func TestStr(t *testing.T) {
	heap := allocator.NewHeap()

	t.Run("RoundTrip", func(t *testing.T) {
		s, err := NewStrFromString(nil, heap, "hello")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if s.Len() != 5 {
			t.Errorf("Len = %d, want 5", s.Len())
		}
		if s.String() != "hello" {
			t.Errorf("String = %q, want hello", s.String())
		}

		if err := s.Destroy(); err != nil {
			t.Fatalf("Destroy failed: %v", err)
		}

		again, err := NewStrFromString(nil, heap, "hello")
		if err != nil {
			t.Fatalf("Recreate failed: %v", err)
		}
		defer again.Destroy()

		if again.Len() != 5 || again.String() != "hello" {
			t.Errorf("Recreated string = %q (len %d), want hello", again.String(), again.Len())
		}
	})

	t.Run("Terminator", func(t *testing.T) {
		s, err := NewStrFromString(nil, heap, "abc")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer s.Destroy()

		terminated := s.TerminatedBytes()
		if len(terminated) != 4 {
			t.Fatalf("TerminatedBytes len = %d, want 4", len(terminated))
		}
		if terminated[3] != 0 {
			t.Errorf("Missing NUL terminator: %v", terminated)
		}
	})

	t.Run("EmbeddedNUL", func(t *testing.T) {
		src := []byte{'a', 0, 'b'}

		s, err := NewStr(nil, heap, src)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer s.Destroy()

		if s.Len() != 3 {
			t.Errorf("Len = %d, want 3 (length is authoritative)", s.Len())
		}
		if !bytes.Equal(s.Bytes(), src) {
			t.Errorf("Bytes = %v, want %v", s.Bytes(), src)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		s, err := NewStrFromString(nil, heap, "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		defer s.Destroy()

		if s.Len() != 0 {
			t.Errorf("Len = %d, want 0", s.Len())
		}
		if s.TerminatedBytes()[0] != 0 {
			t.Error("Empty string still carries a terminator")
		}
	})

	t.Run("DoubleDestroy", func(t *testing.T) {
		s, err := NewStrFromString(nil, heap, "x")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if err := s.Destroy(); err != nil {
			t.Fatalf("First destroy failed: %v", err)
		}

		if err := s.Destroy(); !rterrors.IsDoubleRelease(err) {
			t.Errorf("Expected DOUBLE_RELEASE, got %v", err)
		}
	})

	t.Run("ScopeRelease", func(t *testing.T) {
		ctx := scope.NewContext()

		if err := ctx.Enter(); err != nil {
			t.Fatalf("Enter failed: %v", err)
		}

		s, err := NewStrFromString(ctx, heap, "scoped")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		s.BindScope(ctx)

		if err := ctx.Exit(); err != nil {
			t.Fatalf("Exit failed: %v", err)
		}

		if err := s.Destroy(); !rterrors.IsDoubleRelease(err) {
			t.Errorf("Expected DOUBLE_RELEASE after scope release, got %v", err)
		}
	})
}
