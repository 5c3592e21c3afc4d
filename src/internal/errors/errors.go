// Package errors wraps github.com/pkg/errors so that errors carry stack
// traces from the point where they enter the codebase.  Use Wrap/Wrapf when
// adding context to an error from a callee, and EnsureStack when returning an
// error from an external library unchanged.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the supplied message and a stack trace.
func New(msg string) error {
	return pkgerrors.New(msg)
}

// Errorf formats an error with a stack trace.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap annotates err with a message and a stack trace.  Returns nil if err is
// nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message and a stack trace.  Returns nil
// if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// EnsureStack adds a stack trace to err if it does not already have one.  It
// is a no-op on nil errors and on errors that already carry a stack.  Use it
// when propagating errors from external libraries without additional context.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if stderrors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// JoinInto joins err into *dst, preserving both.  It is a convenience for
// accumulating errors from deferred cleanups.
func JoinInto(dst *error, err error) {
	if err == nil {
		return
	}
	if *dst == nil {
		*dst = err
		return
	}
	*dst = fmt.Errorf("%w; %w", *dst, err)
}

// Close runs closer.Close and joins any error into *dst.  Intended for use in
// defer statements.
func Close(dst *error, closer interface{ Close() error }, msg string) {
	JoinInto(dst, Wrap(closer.Close(), msg))
}
