package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/metadata"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// journal records the order in which test code runs
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.all() {
		if e == entry {
			n++
		}
	}
	return n
}

type fixtureMethod struct {
	record introspect.MethodRecord
	fn     host.Func
}

// tm declares a method that journals its name and then runs body, if any
func tm(j *journal, name string, marker introspect.Marker, body host.Func) fixtureMethod {
	return fixtureMethod{
		record: introspect.MethodRecord{
			Name:      name,
			Markers:   []introspect.Marker{marker},
			Signature: introspect.DefaultSignature(marker),
		},
		fn: func(ctx context.Context, instance any, tc *types.TestContext, args []any) error {
			j.add(name)
			if body != nil {
				return body(ctx, instance, tc, args)
			}
			return nil
		},
	}
}

type fixture struct {
	t       *testing.T
	reg     *host.Registry
	journal *journal
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, reg: host.NewRegistry(), journal: &journal{}}
}

func (f *fixture) class(container, name, base string, methods ...fixtureMethod) *fixture {
	return f.register(container, introspect.ClassRecord{
		Name:                  name,
		Base:                  base,
		HasDefaultConstructor: true,
		IsTestClass:           true,
	}, methods...)
}

func (f *fixture) register(container string, record introspect.ClassRecord, methods ...fixtureMethod) *fixture {
	impls := make(map[string]host.Func, len(methods))
	for _, m := range methods {
		record.Methods = append(record.Methods, m.record)
		impls[m.record.Name] = m.fn
	}
	require.NoError(f.t, f.reg.Register(container, host.Class{Record: record, Methods: impls}))
	return f
}

func (f *fixture) driver(mutate ...func(*Config)) *Driver {
	cache, err := metadata.New(metadata.Config{Log: testLogger(), Introspector: f.reg.Introspector()})
	require.NoError(f.t, err)
	factory, err := host.NewInProcess(host.InProcessConfig{Log: testLogger(), Registry: f.reg})
	require.NoError(f.t, err)

	cfg := Config{Log: testLogger(), Cache: cache, Factory: factory, RunID: "test-run"}
	for _, m := range mutate {
		m(&cfg)
	}
	d, err := NewDriver(cfg)
	require.NoError(f.t, err)
	return d
}

// memoryRecorder keeps every call it receives
type memoryRecorder struct {
	mu       sync.Mutex
	starts   []string
	ends     []string
	results  []*types.ExecutionResult
	messages []Message
	// failWith is returned from every call when set
	failWith error
	// panicOnResult makes RecordResult panic
	panicOnResult bool
}

func (r *memoryRecorder) RecordStart(test types.TestDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, test.FullyQualifiedName())
	return r.failWith
}

func (r *memoryRecorder) RecordEnd(test types.TestDefinition, outcome types.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, fmt.Sprintf("%s=%s", test.FullyQualifiedName(), outcome))
	return r.failWith
}

func (r *memoryRecorder) RecordResult(res *types.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	if r.panicOnResult {
		panic("recorder exploded")
	}
	return r.failWith
}

func (r *memoryRecorder) SendMessage(level MessageLevel, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Level: level, Text: message})
	return r.failWith
}

func (r *memoryRecorder) result(t *testing.T, name string) *types.ExecutionResult {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Test.FullyQualifiedName() == name || res.Name() == name {
			return res
		}
	}
	t.Fatalf("no result for %s", name)
	return nil
}

func (r *memoryRecorder) messagesAt(level MessageLevel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages {
		if m.Level == level {
			out = append(out, m.Text)
		}
	}
	return out
}
