package testengine

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testengine/exitcodes"
)

var (
	_ cli.ExitCoder = (*RuntimeError)(nil)
	_ cli.ExitCoder = (*TestFailureError)(nil)
)

// RuntimeError is an operational failure that prevented a meaningful run: bad configuration,
// an invalid filter, a failed deployment. It exits with exitcodes.RuntimeErr.
type RuntimeError struct {
	Err error
}

// NewRuntimeError wraps err
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run in which tests failed or errored. It exits with
// exitcodes.TestFailure.
type TestFailureError struct {
	Failed  int
	Summary string
}

// NewTestFailureError creates the error of a run with failed tests; summary is the rendered run result
func NewTestFailureError(failed int, summary string) *TestFailureError {
	return &TestFailureError{Failed: failed, Summary: summary}
}

func (e *TestFailureError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("test failure: %d test(s) failed", e.Failed)
	}
	return fmt.Sprintf("test failure: %d test(s) failed\n%s", e.Failed, e.Summary)
}

// ExitCode implements cli.ExitCoder
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return errors.As(err, &testErr)
}
