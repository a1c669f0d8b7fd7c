// Package errors wraps errors with stack traces at tool boundaries and
// carries the exit code a failure should produce.
package errors

import (
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/urfave/cli/v2"
)

// New returns a plain error. Use it for sentinels.
func New(message string) error {
	return errors.New(message)
}

// Errorf creates a new error that carries the stack trace of the caller.
func Errorf(message string, args ...any) error {
	return goerrors.Wrap(fmt.Errorf(message, args...), 1)
}

// WithStackTrace wraps err in an Error that carries the stack trace. If err
// already carries one it is used directly. A nil err returns nil.
func WithStackTrace(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// WithStackTraceAndPrefix is WithStackTrace with message prepended to the
// error text.
func WithStackTraceAndPrefix(err error, message string, args ...any) error {
	if err == nil {
		return nil
	}
	return goerrors.WrapPrefix(err, fmt.Sprintf(message, args...), 1)
}

// ErrorStack returns the stack traces found in err's chain, if any.
func ErrorStack(err error) string {
	var stacks []string
	for err != nil {
		if e, ok := err.(interface{ ErrorStack() string }); ok {
			stacks = append(stacks, e.ErrorStack())
		}
		err = errors.Unwrap(err)
	}
	return strings.Join(stacks, "\n")
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ErrorWithExitCode tells the CLI which exit code a failure maps to.
type ErrorWithExitCode struct {
	Err      error
	ExitCode int
}

func (err ErrorWithExitCode) Error() string {
	return err.Err.Error()
}

func (err ErrorWithExitCode) Unwrap() error {
	return err.Err
}

// Recover recovers from a panic and passes it to onPanic as an error with a
// stack trace. Call it only from a defer statement.
func Recover(onPanic func(cause error)) {
	if rec := recover(); rec != nil {
		err, isError := rec.(error)
		if !isError {
			err = fmt.Errorf("%v", rec)
		}
		onPanic(WithStackTrace(err))
	}
}

// WithPanicHandling turns a panic inside a cli action into a returned error.
func WithPanicHandling(action cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		defer Recover(func(cause error) {
			err = cause
		})
		return action(c)
	}
}
