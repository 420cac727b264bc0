// Package errors provides standardized error messaging for the Lyra runtime.
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryBounds     ErrorCategory = "BOUNDS"
	CategoryScope      ErrorCategory = "SCOPE"
	CategoryContract   ErrorCategory = "CONTRACT"
	CategoryValidation ErrorCategory = "VALIDATION"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(2)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Error codes used by the memory core.
const (
	CodeOutOfMemory        = "OUT_OF_MEMORY"
	CodeIndexOutOfBounds   = "INDEX_OUT_OF_BOUNDS"
	CodeAllocatorMismatch  = "ALLOCATOR_MISMATCH"
	CodeDoubleRelease      = "DOUBLE_RELEASE"
	CodeScopeDepthExceeded = "SCOPE_DEPTH_EXCEEDED"
	CodeScopeUnderflow     = "SCOPE_UNDERFLOW"
	CodeInvalidSize        = "INVALID_SIZE"
)

// Common error constructors

// OutOfMemory reports a failed allocation of the requested size.
func OutOfMemory(requested uintptr) *StandardError {
	return NewStandardError(CategoryMemory, CodeOutOfMemory,
		fmt.Sprintf("Allocation of %d bytes failed", requested),
		map[string]interface{}{"requested": requested})
}

// IndexOutOfBounds reports a bounds-checked access outside [0, count).
func IndexOutOfBounds(index, count int) *StandardError {
	return NewStandardError(CategoryBounds, CodeIndexOutOfBounds,
		fmt.Sprintf("Index %d out of bounds for count %d", index, count),
		map[string]interface{}{"index": index, "count": count})
}

// AllocatorMismatch reports an operation on memory owned by a different allocator instance.
func AllocatorMismatch(operation string) *StandardError {
	return NewStandardError(CategoryContract, CodeAllocatorMismatch,
		fmt.Sprintf("Memory passed to %s is not owned by this allocator", operation),
		map[string]interface{}{"operation": operation})
}

// DoubleRelease reports a second release of an already-released handle.
func DoubleRelease(what string) *StandardError {
	return NewStandardError(CategoryContract, CodeDoubleRelease,
		fmt.Sprintf("%s was already released", what),
		map[string]interface{}{"target": what})
}

// ScopeDepthExceeded reports scope nesting beyond the configured maximum.
func ScopeDepthExceeded(depth, max int) *StandardError {
	return NewStandardError(CategoryScope, CodeScopeDepthExceeded,
		fmt.Sprintf("Scope depth %d exceeds configured maximum %d", depth, max),
		map[string]interface{}{"depth": depth, "max": max})
}

// ScopeUnderflow reports a scope exit with no open frame.
func ScopeUnderflow() *StandardError {
	return NewStandardError(CategoryScope, CodeScopeUnderflow,
		"Scope exit without a matching enter", nil)
}

// InvalidSize reports a size that violates an allocator's contract.
func InvalidSize(size uintptr, context string) *StandardError {
	return NewStandardError(CategoryValidation, CodeInvalidSize,
		fmt.Sprintf("Invalid size %d in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}

// hasCode reports whether any StandardError in err's tree carries the code.
// Joined cleanup failures unwrap into multiple branches, so the whole tree is
// searched, not just the first match.
func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StandardError); ok {
		return se.Code == code
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return hasCode(x.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if hasCode(e, code) {
				return true
			}
		}
	}
	return false
}

// IsOutOfMemory reports whether err is an OUT_OF_MEMORY error.
func IsOutOfMemory(err error) bool { return hasCode(err, CodeOutOfMemory) }

// IsIndexOutOfBounds reports whether err is an INDEX_OUT_OF_BOUNDS error.
func IsIndexOutOfBounds(err error) bool { return hasCode(err, CodeIndexOutOfBounds) }

// IsAllocatorMismatch reports whether err is an ALLOCATOR_MISMATCH error.
func IsAllocatorMismatch(err error) bool { return hasCode(err, CodeAllocatorMismatch) }

// IsDoubleRelease reports whether err is a DOUBLE_RELEASE error.
func IsDoubleRelease(err error) bool { return hasCode(err, CodeDoubleRelease) }

// IsScopeDepthExceeded reports whether err is a SCOPE_DEPTH_EXCEEDED error.
func IsScopeDepthExceeded(err error) bool { return hasCode(err, CodeScopeDepthExceeded) }

// IsScopeUnderflow reports whether err is a SCOPE_UNDERFLOW error.
func IsScopeUnderflow(err error) bool { return hasCode(err, CodeScopeUnderflow) }

// IsInvalidSize reports whether err is an INVALID_SIZE error.
func IsInvalidSize(err error) bool { return hasCode(err, CodeInvalidSize) }
