// Package scope implements the per-execution-context scope stack of the Lyra
// runtime. Compiled code brackets every lexical block with Enter/Exit and
// registers a cleanup for each resource acquired inside the block; Exit runs
// the popped frame's cleanups in strict reverse-of-registration order, which
// matches nested-resource dependency order. One Context belongs to exactly
// one execution context (goroutine); there is no cross-context visibility
// and no locking.
package scope

import (
	"errors"
	"fmt"

	"github.com/lyra-lang/lyra/internal/allocator"
	rterrors "github.com/lyra-lang/lyra/internal/errors"
)

// SafetyMode gates whether bounds and cast checks execute for an execution
// context.
type SafetyMode int

const (
	// SafetyDefault enables all runtime checks.
	SafetyDefault SafetyMode = iota
	// SafetyNone disables bounds/cast checks entirely.
	SafetyNone
	// SafetyStrict enables all checks plus compile-time-strict semantics.
	SafetyStrict
	// SafetyRuntimeOnly enables runtime checks while relaxing static ones.
	SafetyRuntimeOnly
)

// ChecksEnabled reports whether runtime bounds checks execute in this mode.
func (m SafetyMode) ChecksEnabled() bool { return m != SafetyNone }

// String returns the mode name.
func (m SafetyMode) String() string {
	switch m {
	case SafetyDefault:
		return "default"
	case SafetyNone:
		return "none"
	case SafetyStrict:
		return "strict"
	case SafetyRuntimeOnly:
		return "runtime-only"
	default:
		return fmt.Sprintf("safety(%d)", int(m))
	}
}

// Cleanup is a registered release action, run exactly once when its owning
// frame exits.
type Cleanup func() error

// Releasable is anything whose backing storage is released through Destroy.
type Releasable interface {
	Destroy() error
}

// DefaultMaxDepth bounds scope nesting to catch runaway nesting bugs.
const DefaultMaxDepth = 128

type cleanupEntry struct {
	release Cleanup
	done    bool
}

// frame holds the cleanups of one lexical region. Frames live in the
// context's stack slice; a frame's parent is simply the previous index.
type frame struct {
	cleanups []cleanupEntry
}

// Context is an execution context: the owner of one scope-frame chain, its
// type-safety mode and its default allocator. A Context must only be used
// from the goroutine that owns it.
type Context struct {
	frames       []frame
	maxDepth     int
	safety       SafetyMode
	defaultAlloc allocator.Allocator
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithMaxDepth overrides the scope nesting bound.
func WithMaxDepth(depth int) ContextOption {
	return func(c *Context) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithDefaultAllocator sets the allocator buffers use when created without
// an explicit one.
func WithDefaultAllocator(a allocator.Allocator) ContextOption {
	return func(c *Context) { c.defaultAlloc = a }
}

// WithSafety sets the initial type-safety mode.
func WithSafety(mode SafetyMode) ContextOption {
	return func(c *Context) { c.safety = mode }
}

// NewContext creates an execution context with no current frame.
func NewContext(options ...ContextOption) *Context {
	c := &Context{maxDepth: DefaultMaxDepth}
	for _, opt := range options {
		opt(c)
	}

	return c
}

// Depth returns the number of open frames.
func (c *Context) Depth() int { return len(c.frames) }

// Safety returns the context's type-safety mode.
func (c *Context) Safety() SafetyMode { return c.safety }

// SetSafety sets the context's type-safety mode.
func (c *Context) SetSafety(mode SafetyMode) { c.safety = mode }

// DefaultAllocator returns the context's default allocator, falling back to
// the process-default one.
func (c *Context) DefaultAllocator() allocator.Allocator {
	if c.defaultAlloc != nil {
		return c.defaultAlloc
	}

	return allocator.Global()
}

// SetDefaultAllocator replaces the context's default allocator.
func (c *Context) SetDefaultAllocator(a allocator.Allocator) { c.defaultAlloc = a }

// Enter pushes a new empty frame whose parent is the previously-current
// frame. Nesting past the configured maximum is a fatal configuration error,
// reported as SCOPE_DEPTH_EXCEEDED.
func (c *Context) Enter() error {
	if len(c.frames) >= c.maxDepth {
		return rterrors.ScopeDepthExceeded(len(c.frames)+1, c.maxDepth)
	}

	c.frames = append(c.frames, frame{})

	return nil
}

// RegisterCleanup appends a release action to the current frame. When no
// frame is open, one is entered implicitly so a cleanup target always
// exists; this makes registration always safe to call.
func (c *Context) RegisterCleanup(release Cleanup) {
	if len(c.frames) == 0 {
		// Depth 0 < maxDepth always holds, the implicit Enter cannot fail.
		_ = c.Enter()
	}

	f := &c.frames[len(c.frames)-1]
	f.cleanups = append(f.cleanups, cleanupEntry{release: release})
}

// RegisterReleasable registers r's Destroy with the current frame.
func (c *Context) RegisterReleasable(r Releasable) {
	c.RegisterCleanup(r.Destroy)
}

// Exit pops the current frame and runs every registered action in
// reverse-registration order. Each action runs even if a prior one failed;
// the collected failures are returned as one joined error after all actions
// have executed.
func (c *Context) Exit() error {
	if len(c.frames) == 0 {
		return rterrors.ScopeUnderflow()
	}

	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]

	return runCleanups(f.cleanups)
}

// Teardown drains every remaining frame, current first, running each frame's
// cleanups in reverse-registration order. It recovers frames abandoned by
// abrupt termination paths so no registered cleanup is silently skipped.
func (c *Context) Teardown() error {
	var errs []error

	for len(c.frames) > 0 {
		if err := c.Exit(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// runCleanups executes entries last-registered-first. Panics inside a
// cleanup are recovered and collected so the remaining cleanups still run.
func runCleanups(entries []cleanupEntry) error {
	var errs []error

	for i := len(entries) - 1; i >= 0; i-- {
		entry := &entries[i]
		if entry.done {
			continue
		}

		entry.done = true

		if err := invokeCleanup(entry.release); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func invokeCleanup(release Cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scope: cleanup panicked: %v", r)
		}
	}()

	return release()
}
