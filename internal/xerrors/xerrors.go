// Package xerrors provides error constructors and wrappers that capture
// caller position so the log package can render stacks and error links
// without callers threading any of that through by hand.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries a full call stack captured at construction time.
type stacked struct {
	err error
	pcs []uintptr
}

func (e *stacked) Error() string       { return e.err.Error() }
func (e *stacked) Unwrap() error       { return e.err }
func (e *stacked) StackPCs() []uintptr { return e.pcs }
func (e *stacked) IsXerrorsWrapper()   {}

// annotated carries a message plus the single PC of the wrap site.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (e *annotated) Error() string     { return e.msg + ": " + e.err.Error() }
func (e *annotated) Unwrap() error     { return e.err }
func (e *annotated) PC() uintptr       { return e.pc }
func (e *annotated) IsXerrorsWrapper() {}

func stackPCs(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// skip runtime.Callers and stackPCs itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with the message and a captured stack.
func New(msg string) error { return &stacked{err: errors.New(msg), pcs: stackPCs(1)} }

// Newf is New with fmt-style formatting.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: stackPCs(1)}
}

// WithStack attaches a captured stack to err. Returns nil for nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}

// EnsureTrace attaches a stack only if err does not already carry one
// somewhere in its chain.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}

// Wrap annotates err with msg and records the wrap site.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}
