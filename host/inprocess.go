package host

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Func is the Go implementation of a test, lifecycle or cleanup method. Instance is nil for
// class and assembly level methods.
type Func func(ctx context.Context, instance any, tc *types.TestContext, args []any) error

// Class is a registered Go test class
type Class struct {
	Record introspect.ClassRecord
	// New constructs an instance; nil means instances carry no state
	New     func() any
	Methods map[string]Func
}

// Registry holds Go test classes per container. It doubles as their introspection table.
type Registry struct {
	mu       sync.RWMutex
	classes  map[string]map[string]*Class
	registry *introspect.Static
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		classes:  make(map[string]map[string]*Class),
		registry: introspect.NewStatic(),
	}
}

// Register adds a class to a container. Every method named by the class record must have an
// implementation.
func (r *Registry) Register(container string, class Class) error {
	for _, m := range class.Record.Methods {
		if _, ok := class.Methods[m.Name]; !ok {
			return fmt.Errorf("%w: %s.%s has no implementation", ErrUnknownMethod, class.Record.Name, m.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.classes[container] == nil {
		r.classes[container] = make(map[string]*Class)
	}
	c := class
	r.classes[container][class.Record.Name] = &c
	r.registry.Register(container, class.Record)
	return nil
}

// Introspector returns the class records of the registered classes
func (r *Registry) Introspector() introspect.Introspector {
	return r.registry
}

func (r *Registry) container(container string) (map[string]*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	classes, ok := r.classes[container]
	if !ok {
		return nil, false
	}
	snapshot := make(map[string]*Class, len(classes))
	for name, c := range classes {
		snapshot[name] = c
	}
	return snapshot, true
}

// InProcessConfig contains in-process host configuration
type InProcessConfig struct {
	Log      log.Logger
	Registry *Registry
}

// InProcess creates hosts that run registered Go functions in the current process
type InProcess struct {
	log      log.Logger
	registry *Registry
}

var _ Factory = (*InProcess)(nil)

// NewInProcess creates an in-process host factory
func NewInProcess(cfg InProcessConfig) (*InProcess, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &InProcess{log: cfg.Log, registry: cfg.Registry}, nil
}

// CreateIsolatedHost implements Factory
func (f *InProcess) CreateIsolatedHost(ctx context.Context, container string, settings Settings) (Host, error) {
	classes, ok := f.registry.container(container)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContainer, container)
	}
	f.log.Debug("Created in-process host", "container", container, "classes", len(classes))
	return &inProcessHost{log: f.log.New("container", container), classes: classes}, nil
}

type inProcessHost struct {
	log     log.Logger
	classes map[string]*Class
	closed  atomic.Bool
}

func (h *inProcessHost) lookup(class, method string) (*Class, Func, error) {
	if h.closed.Load() {
		return nil, nil, ErrHostClosed
	}
	c, ok := h.classes[class]
	if !ok {
		return nil, nil, fmt.Errorf("%w: class %s", ErrUnknownMethod, class)
	}
	if method == "" {
		return c, nil, nil
	}
	// Inherited methods resolve through the base chain
	seen := make(map[string]bool)
	for owner := c; owner != nil && !seen[owner.Record.Name]; owner = h.classes[owner.Record.Base] {
		seen[owner.Record.Name] = true
		if fn, ok := owner.Methods[method]; ok {
			return c, fn, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, class, method)
}

func (h *inProcessHost) Instantiate(class string) (inst Instance, err error) {
	c, _, err := h.lookup(class, "")
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	var value any
	if c.New != nil {
		value = c.New()
	}
	return &inProcessInstance{host: h, class: class, value: value}, nil
}

func (h *inProcessHost) InvokeStatic(ctx context.Context, class, method string, tc *types.TestContext) error {
	_, fn, err := h.lookup(class, method)
	if err != nil {
		return err
	}
	return invoke(ctx, fn, nil, tc, nil)
}

func (h *inProcessHost) Close() error {
	if h.closed.Swap(true) {
		return ErrHostClosed
	}
	h.log.Debug("Closed in-process host")
	return nil
}

var _ ContextReceiver = (*inProcessInstance)(nil)

type inProcessInstance struct {
	host  *inProcessHost
	class string
	value any
}

func (i *inProcessInstance) Invoke(ctx context.Context, method string, tc *types.TestContext, args []any) error {
	_, fn, err := i.host.lookup(i.class, method)
	if err != nil {
		return err
	}
	return invoke(ctx, fn, i.value, tc, args)
}

// SetTestContext hands tc to the instance value when it implements TestContextSetter
func (i *inProcessInstance) SetTestContext(tc *types.TestContext) (err error) {
	setter, ok := i.value.(TestContextSetter)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	setter.SetTestContext(tc)
	return nil
}

// invoke runs fn on its own goroutine so a context deadline can abandon it. Panics are returned
// as *PanicError.
func invoke(ctx context.Context, fn Func, instance any, tc *types.TestContext, args []any) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		done <- fn(ctx, instance, tc, args)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("method did not complete: %w", ctx.Err())
	}
}
