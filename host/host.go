// Package host provides isolated execution hosts that instantiate test classes and invoke their
// methods.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var (
	// ErrInconclusive may be returned (or wrapped) by a test method to report an inconclusive outcome
	ErrInconclusive = errors.New("inconclusive")
	// ErrHostClosed is returned by calls on a closed host
	ErrHostClosed = errors.New("host is closed")
	// ErrUnknownContainer is returned when a factory cannot bind a host to a container
	ErrUnknownContainer = errors.New("unknown container")
	// ErrUnknownMethod is returned when a host cannot find a method
	ErrUnknownMethod = errors.New("unknown method")
)

// Settings are the run settings a host is created with
type Settings struct {
	// Parameters are the session parameters of the run merged with the container's own
	Parameters map[string]any
	// DeploymentDirectory is where the container's files were deployed, if anywhere
	DeploymentDirectory string
}

// Factory creates hosts bound to one container
type Factory interface {
	CreateIsolatedHost(ctx context.Context, container string, settings Settings) (Host, error)
}

// Host is an isolated execution context bound to one container. It is owned by a single
// container loop and must be closed by it.
type Host interface {
	// Instantiate creates an instance of a class through its default constructor
	Instantiate(class string) (Instance, error)
	// InvokeStatic invokes a class or assembly level method
	InvokeStatic(ctx context.Context, class, method string, tc *types.TestContext) error
	Close() error
}

// Instance is an instantiated test class
type Instance interface {
	Invoke(ctx context.Context, method string, tc *types.TestContext, args []any) error
}

// ContextReceiver is implemented by instances that can have a TestContext injected after
// construction. Hosts that hand the context to every call need not implement it.
type ContextReceiver interface {
	SetTestContext(tc *types.TestContext) error
}

// TestContextSetter is implemented by in-process test class values that keep the TestContext
type TestContextSetter interface {
	SetTestContext(tc *types.TestContext)
}

// PanicError carries a panic raised by test code
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// FailureError is a test failure reported by an out-of-process host, with the test's output
type FailureError struct {
	Message string
	Output  string
}

// Error implements the error interface
func (e *FailureError) Error() string {
	return e.Message
}
