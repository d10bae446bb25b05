// Package xerrors adds call-site information to internal errors so the
// logger can render error_links and stacks. Client-facing errors live in
// apperr; everything below the HTTP boundary uses these helpers.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the full stack captured at creation time
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated carries a message prefix and the single frame that added it
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// stack skips runtime.Callers and itself, plus skip more frames
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func withStack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stack(skip + 1)}
}

// New returns an error with a captured stack.
func New(msg string) error { return withStack(errors.New(msg), 1) }

// Newf is New with formatting.
func Newf(format string, args ...any) error {
	return withStack(fmt.Errorf(format, args...), 1)
}

// WithStack attaches the current stack to err. nil stays nil.
func WithStack(err error) error { return withStack(err, 1) }

// EnsureTrace attaches a stack unless something in the chain already has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if HasStack(err) {
		return err
	}
	return withStack(err, 1)
}

// HasStack reports whether any error in the chain carries captured PCs.
func HasStack(err error) bool {
	var hs interface{ StackPCs() []uintptr }
	return errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0
}

// Wrap prefixes err with msg and records the caller. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}

// Root walks the Unwrap chain and returns the innermost error.
func Root(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}
