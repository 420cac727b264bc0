package allocator

import (
	"sync/atomic"
	"unsafe"

	"github.com/lyra-lang/lyra/internal/errors"
)

// AllocFlags is the per-request option bitset consulted by every Alloc call.
type AllocFlags uint8

const (
	// FlagZero zero-fills the returned block even when the backing memory
	// is being reused (arena/fixed/bump after Reset, pool after Free).
	FlagZero AllocFlags = 1 << iota
	// FlagNoFail escalates any unresolved allocation failure to a panic,
	// regardless of the failure strategy.
	FlagNoFail
	// FlagGrowable marks the allocation as backing growable storage
	// (typed-buffer hint).
	FlagGrowable
	// FlagPersist marks the allocation as long-lived (tracking hint).
	FlagPersist
	// FlagTemp marks the allocation as short-lived (tracking hint).
	FlagTemp
)

// FailureStrategy selects how an allocator resolves OUT_OF_MEMORY.
type FailureStrategy int

const (
	// ReturnNull hands the failure back to the caller as a nil pointer
	// plus an OUT_OF_MEMORY error.
	ReturnNull FailureStrategy = iota
	// Panic terminates the execution context abnormally.
	Panic
	// RetryAfterHook runs the process-wide out-of-memory hook, retries
	// exactly once, then degrades to ReturnNull.
	RetryAfterHook
	// CollectAndRetry runs the process-wide collect hook, retries exactly
	// once, then degrades to ReturnNull.
	CollectAndRetry
)

// Request describes one allocation.
type Request struct {
	Size      uintptr
	Align     uintptr // 0 means the allocator's configured alignment
	Flags     AllocFlags
	OnFailure FailureStrategy
}

// Sized is shorthand for a plain request of the given size.
func Sized(size uintptr) Request {
	return Request{Size: size}
}

// Process-wide hook registration points. The out-of-memory hook may release
// caches elsewhere in the runtime; the collect hook triggers an external
// reclamation pass. Both are consulted only under their failure strategies.

type oomHookFunc func(requested uintptr)

var (
	oomHook     atomic.Pointer[oomHookFunc]
	collectHook atomic.Pointer[func()]
)

// SetOutOfMemoryHook registers the hook run under RetryAfterHook. A nil hook
// clears the registration.
func SetOutOfMemoryHook(hook func(requested uintptr)) {
	if hook == nil {
		oomHook.Store(nil)
		return
	}

	fn := oomHookFunc(hook)
	oomHook.Store(&fn)
}

// SetCollectHook registers the hook run under CollectAndRetry. A nil hook
// clears the registration.
func SetCollectHook(hook func()) {
	if hook == nil {
		collectHook.Store(nil)
		return
	}

	collectHook.Store(&hook)
}

// resolveAlloc drives one allocation attempt through the request's failure
// strategy. try performs a single raw attempt and returns nil on exhaustion.
func resolveAlloc(req Request, try func() unsafe.Pointer) (unsafe.Pointer, error) {
	ptr := try()

	if ptr == nil {
		switch req.OnFailure {
		case RetryAfterHook:
			if hook := oomHook.Load(); hook != nil {
				(*hook)(req.Size)
				ptr = try()
			}
		case CollectAndRetry:
			if hook := collectHook.Load(); hook != nil {
				(*hook)()
				ptr = try()
			}
		}
	}

	if ptr == nil {
		err := errors.OutOfMemory(req.Size)
		if req.OnFailure == Panic || req.Flags&FlagNoFail != 0 {
			panic(err)
		}

		return nil, err
	}

	if req.Flags&FlagZero != 0 {
		zeroMemory(ptr, req.Size)
	}

	return ptr, nil
}
