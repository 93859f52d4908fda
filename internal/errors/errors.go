// Package errors wraps errors with the stack trace of the call site, converts
// recovered panics into errors and collects multiple errors into one.
package errors

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Sentinel creates a comparable error without a stack trace, for package-level values.
func Sentinel(message string) error {
	return errors.New(message)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Errorf formats an error carrying the caller's stack trace. %w is honored.
func Errorf(format string, args ...any) error {
	return goerrors.Wrap(fmt.Errorf(format, args...), 1)
}

// WithStackTrace attaches the caller's stack trace to err. A nil err stays nil.
func WithStackTrace(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// WithStackTraceAndPrefix is WithStackTrace with a formatted prefix prepended to the message.
func WithStackTraceAndPrefix(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return goerrors.WrapPrefix(err, fmt.Sprintf(format, args...), 1)
}

// Stack renders err followed by the deepest stack trace found in its chain.
// An error that never had a trace gets the trace of this call.
func Stack(err error) string {
	if err == nil {
		return ""
	}

	var deepest *goerrors.Error
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if ge, ok := cur.(*goerrors.Error); ok {
			deepest = ge
		}
	}
	if deepest == nil {
		deepest = goerrors.Wrap(err, 1)
	}
	return deepest.ErrorStack()
}

// Recover converts a panic into an error carrying the panicking stack and hands it to
// onPanic. Call it only in a defer statement.
func Recover(onPanic func(cause error)) {
	rec := recover()
	if rec == nil {
		return
	}

	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("%v", rec)
	}
	onPanic(goerrors.Wrap(err, 2))
}
