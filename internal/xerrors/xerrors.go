// Package xerrors wraps errors with the call site that produced them so the
// logger can render error links and stacks without extra work at call sites.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// skip counts frames above the exported helper
func stackAt(err error, skip int) error {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	return &withStack{err: err, pcs: pcs[:n]}
}

// WithStack records the current stack on err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return stackAt(err, 1)
}

// EnsureTrace is WithStack unless err already carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stackAt(err, 1)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

func caller() uintptr {
	var pcs [1]uintptr
	// runtime.Callers, caller, Wrap/Wrapf
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}

func New(msg string) error             { return stackAt(errors.New(msg), 1) }
func Newf(f string, args ...any) error { return stackAt(fmt.Errorf(f, args...), 1) }
