// Package cerr defines the single structured error kind that escapes the
// compiler core: CompileError. Nothing below this package recovers from a
// compile error locally — it unwinds the current pass, per the driver's
// single-error-reporting contract.
package cerr

import (
	"fmt"
	"strings"
)

// CompileError is a structured compile failure carrying a human-readable
// message and the context description path active when it was raised.
type CompileError struct {
	Message string
	Path    []string
}

// New builds a CompileError with a formatted message and no path attached.
// Callers that have a context.Describe() path should use WithPath instead.
func New(format string, args ...any) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...)}
}

// WithPath attaches a description path (most specific last) to a CompileError.
func WithPath(path []string, format string, args ...any) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...), Path: path}
}

func (e *CompileError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s at %s", e.Message, strings.Join(e.Path, " at "))
}

// Collector accumulates errors produced while running independent passes
// over sibling declarations. It reports only the first error, matching the
// driver's "convert the first error into a single reported message" rule,
// while still letting callers that want fail-fast behavior call Must.
type Collector struct {
	first error
}

// Add records err if it is the first error seen. Later errors are discarded
// intentionally — the driver never emits partial DECORATE on failure, so
// only the first failure is ever meaningful to a caller.
func (c *Collector) Add(err error) {
	if err != nil && c.first == nil {
		c.first = err
	}
}

// Err returns the first recorded error, or nil if none was recorded.
func (c *Collector) Err() error {
	return c.first
}

// Failed reports whether any error has been recorded.
func (c *Collector) Failed() bool {
	return c.first != nil
}

// Must panics with err if non-nil. Used by call sites that have no
// reasonable way to propagate an error (e.g. deep inside a recursive
// text-building helper) and rely on an outer recover to convert the panic
// back into a returned error.
func Must(err error) {
	if err != nil {
		panic(err)
	}
}

// Recover should be deferred at pass boundaries that use Must internally.
// It converts a panic carrying an error (including a *CompileError) back
// into a returned error; any other panic value is re-raised.
func Recover(errp *error) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			*errp = err
			return
		}
		panic(r)
	}
}
