package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testengine/datarows"
	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

const calc = "./calc"

func withRecord(m fixtureMethod, fn func(*introspect.MethodRecord)) fixtureMethod {
	fn(&m.record)
	return m
}

func failWith(msg string) host.Func {
	return func(context.Context, any, *types.TestContext, []any) error {
		return errors.New(msg)
	}
}

func TestNewDriver(t *testing.T) {
	_, err := NewDriver(Config{})
	require.Error(t, err)
}

func TestDriver_InvalidFilter(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "", tm(f.journal, "TestA", introspect.MarkerTestMethod, nil))
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{FilterText: "(Name=TestA"}, rec, nil)
	require.ErrorIs(t, err, filter.ErrInvalidFilter)

	assert.Len(t, rec.messages, 1)
	assert.Equal(t, MessageError, rec.messages[0].Level)
	assert.Empty(t, rec.starts)
	assert.Empty(t, f.journal.all())
}

func TestDriver_Filter(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "",
		tm(f.journal, "TestA", introspect.MarkerTestMethod, nil),
		tm(f.journal, "TestB", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{FilterText: "Name=TestB"}, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"TestB"}, f.journal.all())
	assert.Equal(t, []string{"Calc.TestB"}, rec.starts)
}

func TestDriver_LifecycleOrder(t *testing.T) {
	f := newFixture(t)
	j := f.journal
	f.class(calc, "Base", "",
		tm(j, "BaseInit", introspect.MarkerTestInitialize, nil),
		tm(j, "BaseCleanup", introspect.MarkerTestCleanup, nil),
	)
	f.class(calc, "Derived", "Base",
		tm(j, "Boot", introspect.MarkerAssemblyInitialize, nil),
		tm(j, "Shutdown", introspect.MarkerAssemblyCleanup, nil),
		tm(j, "Setup", introspect.MarkerClassInitialize, nil),
		tm(j, "Teardown", introspect.MarkerClassCleanup, func(_ context.Context, _ any, tc *types.TestContext, _ []any) error {
			tc.WriteLine("teardown output")
			return nil
		}),
		tm(j, "Init", introspect.MarkerTestInitialize, nil),
		tm(j, "Cleanup", introspect.MarkerTestCleanup, nil),
		tm(j, "TestOne", introspect.MarkerTestMethod, nil),
		tm(j, "TestTwo", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Boot", "Setup",
		"BaseInit", "Init", "TestOne", "Cleanup", "BaseCleanup",
		"BaseInit", "Init", "TestTwo", "Cleanup", "BaseCleanup",
		"Teardown", "Shutdown",
	}, j.all())

	assert.Equal(t, []string{"Derived.TestOne=passed", "Derived.TestTwo=passed"}, rec.ends)
	assert.NotContains(t, rec.result(t, "Derived.TestOne").StandardOut, "teardown output")
	assert.Contains(t, rec.result(t, "Derived.TestTwo").StandardOut, "teardown output")
}

func TestDriver_CancellationBetweenTests(t *testing.T) {
	f := newFixture(t)
	token := types.NewCancellationToken()
	cancel := func(context.Context, any, *types.TestContext, []any) error {
		token.Cancel()
		return nil
	}
	f.class(calc, "Calc", "",
		tm(f.journal, "Teardown", introspect.MarkerClassCleanup, nil),
		tm(f.journal, "Test1", introspect.MarkerTestMethod, nil),
		tm(f.journal, "Test2", introspect.MarkerTestMethod, cancel),
		tm(f.journal, "Test3", introspect.MarkerTestMethod, nil),
		tm(f.journal, "Test4", introspect.MarkerTestMethod, nil),
		tm(f.journal, "Test5", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, token)
	require.NoError(t, err)

	assert.Equal(t, []string{"Calc.Test1", "Calc.Test2"}, rec.starts)
	require.Len(t, rec.results, 2)
	assert.Equal(t, 1, f.journal.count("Teardown"))
	assert.Equal(t, 0, f.journal.count("Test3"))
}

func TestDriver_ContextCancelDoesNotPreemptTest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	token := types.NewCancellationToken()
	stop := token.CancelOnDone(ctx)
	defer stop()

	cancelMidTest := func(ctx context.Context, _ any, _ *types.TestContext, _ []any) error {
		cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Millisecond):
			return nil
		}
	}
	slowCleanup := func(ctx context.Context, _ any, _ *types.TestContext, _ []any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	}
	f.class(calc, "Calc", "",
		tm(f.journal, "Teardown", introspect.MarkerClassCleanup, slowCleanup),
		tm(f.journal, "T1", introspect.MarkerTestMethod, nil),
		tm(f.journal, "T2", introspect.MarkerTestMethod, cancelMidTest),
		tm(f.journal, "T3", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(ctx, []string{calc}, RunContext{}, rec, token)
	require.NoError(t, err)

	assert.True(t, token.IsCancelled())
	assert.Equal(t, []string{"Calc.T1", "Calc.T2"}, rec.starts)
	assert.Equal(t, types.OutcomePassed, rec.result(t, "Calc.T2").Outcome)
	assert.Empty(t, rec.messagesAt(MessageWarning))
	assert.Equal(t, 1, f.journal.count("Teardown"))
	assert.Equal(t, 0, f.journal.count("T3"))
}

func TestDriver_RunTestsWithoutIDs(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "",
		tm(f.journal, "TestA", introspect.MarkerTestMethod, nil),
		tm(f.journal, "TestB", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}
	tests := []types.TestDefinition{
		{Container: calc, Class: "Calc", Method: "TestA"},
		{Container: calc, Class: "Calc", Method: "TestB"},
	}

	err := f.driver().RunTests(context.Background(), tests, RunContext{}, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Calc.TestA", "Calc.TestB"}, rec.starts)
	assert.Equal(t, []string{"TestA", "TestB"}, f.journal.all())
}

type contextHolder struct {
	tc *types.TestContext
}

func (h *contextHolder) SetTestContext(tc *types.TestContext) { h.tc = tc }

func TestDriver_InjectsTestContext(t *testing.T) {
	f := newFixture(t)
	var injected []bool
	check := func(_ context.Context, instance any, tc *types.TestContext, _ []any) error {
		injected = append(injected, instance.(*contextHolder).tc == tc)
		return nil
	}
	for _, c := range []struct {
		name     string
		settable bool
	}{{"WithContext", true}, {"ReadOnly", false}} {
		require.NoError(t, f.reg.Register(calc, host.Class{
			Record: introspect.ClassRecord{
				Name:                  c.name,
				HasDefaultConstructor: true,
				IsTestClass:           true,
				Methods:               []introspect.MethodRecord{tm(f.journal, "TestIt", introspect.MarkerTestMethod, nil).record},
				ContextProperties:     []introspect.ContextPropertyRecord{{Name: "TestContext", Type: introspect.TypeTestContext, Settable: c.settable}},
			},
			New:     func() any { return &contextHolder{} },
			Methods: map[string]host.Func{"TestIt": check},
		}))
	}
	rec := &memoryRecorder{}

	err := f.driver().RunTests(context.Background(), []types.TestDefinition{
		types.NewTestDefinition(calc, "WithContext", "TestIt"),
		types.NewTestDefinition(calc, "ReadOnly", "TestIt"),
	}, RunContext{}, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, injected)
	assert.Equal(t, types.OutcomePassed, rec.result(t, "WithContext.TestIt").Outcome)
}

func TestDriver_CancelledBeforeRun(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "", tm(f.journal, "TestA", introspect.MarkerTestMethod, nil))
	token := types.NewCancellationToken()
	token.Cancel()
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, token)
	require.NoError(t, err)
	assert.Empty(t, f.journal.all())
	assert.Empty(t, rec.results)
}

func TestDriver_ClassFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.register(calc, introspect.ClassRecord{Name: "Broken", IsTestClass: true},
		tm(f.journal, "TestX", introspect.MarkerTestMethod, nil))
	f.class(calc, "Good", "", tm(f.journal, "TestY", introspect.MarkerTestMethod, nil))
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	broken := rec.result(t, "Broken.TestX")
	assert.Equal(t, types.OutcomeFailed, broken.Outcome)
	assert.Equal(t, "Unable to get default constructor for class Broken.", broken.ErrorMessage)
	assert.Equal(t, types.OutcomePassed, rec.result(t, "Good.TestY").Outcome)
	assert.Equal(t, []string{"TestY"}, f.journal.all())
}

func TestDriver_Outcomes(t *testing.T) {
	timeout := 20 * time.Millisecond
	f := newFixture(t)
	j := f.journal
	f.class(calc, "Calc", "",
		tm(j, "TestPass", introspect.MarkerTestMethod, nil),
		tm(j, "TestFail", introspect.MarkerTestMethod, failWith("expected 4, got 5")),
		tm(j, "TestPanic", introspect.MarkerTestMethod, func(context.Context, any, *types.TestContext, []any) error {
			panic("kaboom")
		}),
		tm(j, "TestInconclusive", introspect.MarkerTestMethod, func(context.Context, any, *types.TestContext, []any) error {
			return host.ErrInconclusive
		}),
		withRecord(tm(j, "TestSlow", introspect.MarkerTestMethod, func(ctx context.Context, _ any, _ *types.TestContext, _ []any) error {
			<-ctx.Done()
			return ctx.Err()
		}), func(r *introspect.MethodRecord) { r.Timeout = &timeout }),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomePassed, rec.result(t, "Calc.TestPass").Outcome)

	failed := rec.result(t, "Calc.TestFail")
	assert.Equal(t, types.OutcomeFailed, failed.Outcome)
	assert.Contains(t, failed.ErrorMessage, "expected 4, got 5")

	panicked := rec.result(t, "Calc.TestPanic")
	assert.Equal(t, types.OutcomeFailed, panicked.Outcome)
	assert.Contains(t, panicked.ErrorMessage, "panic: kaboom")
	assert.NotEmpty(t, panicked.ErrorStackTrace)

	assert.Equal(t, types.OutcomeInconclusive, rec.result(t, "Calc.TestInconclusive").Outcome)

	slow := rec.result(t, "Calc.TestSlow")
	assert.Equal(t, types.OutcomeFailed, slow.Outcome)
	assert.Equal(t, "Test 'TestSlow' exceeded execution timeout period.", slow.ErrorMessage)
}

func TestDriver_MapInconclusiveToFailed(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "", tm(f.journal, "TestMaybe", introspect.MarkerTestMethod, func(context.Context, any, *types.TestContext, []any) error {
		return host.ErrInconclusive
	}))
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{MapInconclusiveToFailed: true}, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, rec.result(t, "Calc.TestMaybe").Outcome)
	assert.Equal(t, []string{"Calc.TestMaybe=failed"}, rec.ends)
}

func TestDriver_InitializationFailures(t *testing.T) {
	f := newFixture(t)
	j := f.journal
	f.class(calc, "Calc", "",
		tm(j, "Boot", introspect.MarkerAssemblyInitialize, failWith("no database")),
		tm(j, "TestA", introspect.MarkerTestMethod, nil),
		tm(j, "TestB", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	for _, name := range []string{"Calc.TestA", "Calc.TestB"} {
		res := rec.result(t, name)
		assert.Equal(t, types.OutcomeFailed, res.Outcome)
		assert.Equal(t, "Assembly Initialization method Calc.Boot threw exception. no database. Aborting test execution.", res.ErrorMessage)
	}
	assert.Equal(t, []string{"Boot"}, j.all())
}

func TestDriver_TestInitializeFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	j := f.journal
	f.class(calc, "Calc", "",
		tm(j, "Init", introspect.MarkerTestInitialize, failWith("not ready")),
		tm(j, "Cleanup", introspect.MarkerTestCleanup, nil),
		tm(j, "TestA", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	res := rec.result(t, "Calc.TestA")
	assert.Equal(t, types.OutcomeFailed, res.Outcome)
	assert.Equal(t, "Initialization method Calc.Init threw exception. not ready.", res.ErrorMessage)
	assert.Equal(t, []string{"Init", "Cleanup"}, j.all())
}

func TestDriver_CleanupWarnings(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "",
		tm(f.journal, "Teardown", introspect.MarkerClassCleanup, failWith("nope")),
		tm(f.journal, "TestA", introspect.MarkerTestMethod, nil),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Class Cleanup method Calc.Teardown failed. Error Message: nope."}, rec.messagesAt(MessageWarning))
	assert.Equal(t, types.OutcomePassed, rec.result(t, "Calc.TestA").Outcome)
}

func TestDriver_DataRows(t *testing.T) {
	f := newFixture(t)
	var seen [][]any
	f.class(calc, "Calc", "",
		withRecord(tm(f.journal, "TestAdd", introspect.MarkerTestMethod, func(_ context.Context, _ any, tc *types.TestContext, args []any) error {
			seen = append(seen, args)
			_, index := tc.DataRow()
			tc.WriteLine("row %d", index)
			if index == 1 {
				return errors.New("bad row")
			}
			return nil
		}), func(r *introspect.MethodRecord) { r.DataRows = [][]any{{1, 2}, {3, 4}, {5, 6}} }),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5, 6}}, seen)
	require.Len(t, rec.results, 3)
	for i, res := range rec.results {
		assert.Equal(t, i, res.DataRowIndex)
		assert.Equal(t, types.DataRowDisplayName("TestAdd", i), res.DisplayName)
	}
	assert.Equal(t, "TestAdd (Data Row 1)", rec.results[1].DisplayName)
	assert.Equal(t, types.OutcomeFailed, rec.results[1].Outcome)
	assert.NotContains(t, rec.results[2].StandardOut, "row 1", "messages are cleared between rows")
}

func TestDriver_DataSourceErrors(t *testing.T) {
	f := newFixture(t)
	f.class(calc, "Calc", "",
		withRecord(tm(f.journal, "TestMissingFile", introspect.MarkerTestMethod, nil), func(r *introspect.MethodRecord) {
			r.DataSource = &introspect.DataSourceRecord{AccessMethod: "Sequential", File: filepath.Join(t.TempDir(), "missing.yaml")}
		}),
		withRecord(tm(f.journal, "TestUnknownAccess", introspect.MarkerTestMethod, nil), func(r *introspect.MethodRecord) {
			r.DataRows = [][]any{{1}}
			r.DataSource = &introspect.DataSourceRecord{AccessMethod: "Shuffled"}
		}),
	)
	rec := &memoryRecorder{}

	err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
	require.NoError(t, err)

	missing := rec.result(t, "Calc.TestMissingFile")
	assert.Equal(t, types.OutcomeError, missing.Outcome)
	assert.True(t, strings.HasPrefix(missing.ErrorMessage, "The unit test adapter failed to connect to the data source"))

	unknown := rec.result(t, "Calc.TestUnknownAccess")
	assert.Equal(t, types.OutcomeError, unknown.Outcome)
	assert.Contains(t, unknown.ErrorMessage, datarows.ErrUnknownAccessMethod.Error())
	assert.Empty(t, f.journal.all())
}

func TestDriver_RecorderFailuresAreSwallowed(t *testing.T) {
	for _, rec := range []*memoryRecorder{
		{failWith: errors.New("disk full")},
		{failWith: ErrTestCanceled},
		{panicOnResult: true},
	} {
		f := newFixture(t)
		f.class(calc, "Calc", "",
			tm(f.journal, "TestA", introspect.MarkerTestMethod, nil),
			tm(f.journal, "TestB", introspect.MarkerTestMethod, nil),
		)
		err := f.driver().RunContainers(context.Background(), []string{calc}, RunContext{}, rec, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"TestA", "TestB"}, f.journal.all())
		assert.Len(t, rec.results, 2)
	}
}

type failingFactory struct {
	host.Factory
	bad string
}

func (f failingFactory) CreateIsolatedHost(ctx context.Context, container string, settings host.Settings) (host.Host, error) {
	if container == f.bad {
		return nil, errors.New("no room")
	}
	return f.Factory.CreateIsolatedHost(ctx, container, settings)
}

func TestDriver_HostFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.class("./bad", "Bad", "", tm(f.journal, "TestBad", introspect.MarkerTestMethod, nil))
	f.class("./good", "Good", "", tm(f.journal, "TestGood", introspect.MarkerTestMethod, nil))
	rec := &memoryRecorder{}

	d := f.driver(func(c *Config) { c.Factory = failingFactory{Factory: c.Factory, bad: "./bad"} })
	err := d.RunContainers(context.Background(), []string{"./bad", "./good"}, RunContext{}, rec, nil)
	require.NoError(t, err)

	errs := rec.messagesAt(MessageError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no room")
	assert.Equal(t, []string{"TestGood"}, f.journal.all())
}

func TestDriver_Parameters(t *testing.T) {
	f := newFixture(t)
	var got map[string]any
	f.class(calc, "Calc", "", tm(f.journal, "TestParams", introspect.MarkerTestMethod, func(_ context.Context, _ any, tc *types.TestContext, _ []any) error {
		got = tc.Properties()
		return nil
	}))
	rec := &memoryRecorder{}

	runCtx := RunContext{
		Parameters:          map[string]any{"endpoint": "http://localhost", "retries": 1},
		ContainerParameters: map[string]map[string]any{calc: {"retries": 3}},
	}
	err := f.driver().RunContainers(context.Background(), []string{calc}, runCtx, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", got["endpoint"])
	assert.Equal(t, 3, got["retries"])
	assert.Equal(t, "TestParams", got[types.PropertyTestName])
}

func TestDriver_Concurrency(t *testing.T) {
	f := newFixture(t)
	containers := []string{"./a", "./b", "./c"}
	for _, c := range containers {
		f.class(c, "Suite", "",
			tm(f.journal, "TestOne", introspect.MarkerTestMethod, nil),
			tm(f.journal, "TestTwo", introspect.MarkerTestMethod, nil),
		)
	}
	collector := NewCollector("run-1")

	d := f.driver(func(c *Config) { c.Concurrency = 3 })
	err := d.RunContainers(context.Background(), containers, RunContext{}, collector, nil)
	require.NoError(t, err)

	result := collector.Finalize()
	assert.Equal(t, 6, result.Stats.Total)
	assert.Equal(t, 6, result.Stats.Passed)
	assert.Len(t, result.Containers, 3)
	assert.Equal(t, types.OutcomePassed, result.Status)
}

type fakeDeployment struct {
	dir     string
	cleaned int
}

func (d *fakeDeployment) Deploy([]types.TestDefinition, RunContext) (bool, error) { return true, nil }
func (d *fakeDeployment) DeploymentDirectory() string                          { return d.dir }
func (d *fakeDeployment) Cleanup() error {
	d.cleaned++
	return nil
}

func TestDriver_DeploymentCleanup(t *testing.T) {
	for _, tt := range []struct {
		name    string
		body    host.Func
		cleaned int
	}{
		{name: "passing run", cleaned: 1},
		{name: "failing run keeps deployment", body: failWith("boom"), cleaned: 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			deployment := &fakeDeployment{dir: t.TempDir()}
			var dir any
			f.class(calc, "Calc", "", tm(f.journal, "TestA", introspect.MarkerTestMethod, func(ctx context.Context, inst any, tc *types.TestContext, args []any) error {
				dir, _ = tc.Property(types.PropertyDeploymentDirectory)
				if tt.body != nil {
					return tt.body(ctx, inst, tc, args)
				}
				return nil
			}))

			d := f.driver(func(c *Config) { c.Deployment = deployment })
			err := d.RunContainers(context.Background(), []string{calc}, RunContext{}, &memoryRecorder{}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.cleaned, deployment.cleaned)
			assert.Equal(t, deployment.dir, dir)
		})
	}
}

func TestDirectoryDeployment(t *testing.T) {
	container := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(container, "rows.yaml"), []byte("- [1]\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(container, "fixtures"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(container, "fixtures", "a.txt"), []byte("a"), 0644))

	d, err := NewDirectoryDeployment(DirectoryDeploymentConfig{Log: testLogger(), Root: t.TempDir(), Items: []string{"fixtures"}})
	require.NoError(t, err)

	test := types.NewTestDefinition(container, "Calc", "TestA")
	test.Properties = []types.Property{{Name: DeploymentItemProperty, Value: "rows.yaml"}}

	deployed, err := d.Deploy([]types.TestDefinition{test}, RunContext{})
	require.NoError(t, err)
	require.True(t, deployed)

	dir := d.DeploymentDirectory()
	assert.FileExists(t, filepath.Join(dir, "rows.yaml"))
	assert.FileExists(t, filepath.Join(dir, "fixtures", "a.txt"))

	require.NoError(t, d.Cleanup())
	assert.NoDirExists(t, dir)
	assert.Empty(t, d.DeploymentDirectory())

	nothing, err := NewDirectoryDeployment(DirectoryDeploymentConfig{Log: testLogger(), Root: t.TempDir()})
	require.NoError(t, err)
	deployed, err = nothing.Deploy([]types.TestDefinition{types.NewTestDefinition(container, "Calc", "TestA")}, RunContext{})
	require.NoError(t, err)
	assert.False(t, deployed)
}
