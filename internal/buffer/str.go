package buffer

import (
	"unsafe"

	"github.com/lyra-lang/lyra/internal/allocator"
	rterrors "github.com/lyra-lang/lyra/internal/errors"
	"github.com/lyra-lang/lyra/internal/scope"
)

// Str is an immutable length/data pair. The backing storage always carries a
// NUL terminator for interop, but the length is the authoritative size:
// embedded NULs within the length are legal. A Str exclusively owns its
// backing storage and releases it exactly once.
type Str struct {
	alloc    allocator.Allocator
	data     unsafe.Pointer
	length   int
	released bool
}

// NewStr copies src plus one terminator slot into storage obtained from
// alloc. A nil alloc selects ctx's default allocator (or the process default
// when ctx is nil).
func NewStr(ctx *scope.Context, alloc allocator.Allocator, src []byte) (*Str, error) {
	alloc = resolveAllocator(ctx, alloc)

	ptr, err := alloc.Alloc(allocator.Request{
		Size:  uintptr(len(src)) + 1,
		Flags: allocator.FlagZero,
	})
	if err != nil {
		return nil, err
	}

	backing := unsafe.Slice((*byte)(ptr), len(src)+1)
	copy(backing, src)
	backing[len(src)] = 0

	return &Str{alloc: alloc, data: ptr, length: len(src)}, nil
}

// NewStrFromString copies s into allocator-owned storage.
func NewStrFromString(ctx *scope.Context, alloc allocator.Allocator, s string) (*Str, error) {
	return NewStr(ctx, alloc, []byte(s))
}

// Len returns the authoritative byte length, excluding the terminator.
func (s *Str) Len() int { return s.length }

// Bytes returns the borrowed content, bounded by Len. The slice must not be
// retained past the Str's lifetime.
func (s *Str) Bytes() []byte {
	if s.released {
		panic("buffer: string used after Destroy")
	}

	if s.length == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(s.data), s.length)
}

// TerminatedBytes returns the borrowed content including the trailing NUL,
// for interop with terminator-scanning consumers.
func (s *Str) TerminatedBytes() []byte {
	if s.released {
		panic("buffer: string used after Destroy")
	}

	return unsafe.Slice((*byte)(s.data), s.length+1)
}

// String returns an independent copy of the content.
func (s *Str) String() string {
	return string(s.Bytes())
}

// Destroy releases the backing storage through the owning allocator. A
// second Destroy is a DOUBLE_RELEASE error, not a silent no-op.
func (s *Str) Destroy() error {
	if s.released {
		return rterrors.DoubleRelease("string storage")
	}

	s.released = true

	ptr := s.data
	s.data = nil
	s.length = 0

	return s.alloc.Free(ptr)
}

// BindScope registers the string's release with ctx's current frame.
func (s *Str) BindScope(ctx *scope.Context) {
	ctx.RegisterReleasable(s)
}
