package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/datarows"
	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/metadata"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// UnitTestRunnerConfig contains the configuration of a per-container runner
type UnitTestRunnerConfig struct {
	Log       log.Logger
	Host      host.Host
	Cache     *metadata.Cache
	Container string
	// Parameters are the merged session and container parameters
	Parameters          map[string]any
	DeploymentDirectory string
}

type classState struct {
	meta *metadata.ClassMetadata
	err  error
}

// UnitTestRunner sequences lifecycle methods and test invocations inside one host. It is owned
// by a single container loop and is not safe for concurrent use.
type UnitTestRunner struct {
	log        log.Logger
	host       host.Host
	cache      *metadata.Cache
	container  string
	params     map[string]any
	deployment string

	assembly    *metadata.AssemblyMetadata
	assemblyRan bool
	assemblyErr error

	classes    map[types.ClassKey]*classState
	classOrder []*metadata.ClassMetadata
}

// NewUnitTestRunner creates a runner bound to cfg.Host
func NewUnitTestRunner(cfg UnitTestRunnerConfig) (*UnitTestRunner, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("metadata cache is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &UnitTestRunner{
		log:        cfg.Log.New("container", cfg.Container),
		host:       cfg.Host,
		cache:      cfg.Cache,
		container:  cfg.Container,
		params:     cfg.Parameters,
		deployment: cfg.DeploymentDirectory,
		classes:    make(map[types.ClassKey]*classState),
	}, nil
}

// RunSingleTest executes one test and returns one result, or one result per data row. It never
// panics; failures of any step are reported as results.
func (u *UnitTestRunner) RunSingleTest(ctx context.Context, test types.TestDefinition) (results []*types.ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res := panicResult(test, r, debug.Stack())
			res.StartTime, res.EndTime, res.Duration = start, time.Now(), time.Since(start)
			results = []*types.ExecutionResult{res}
		}
	}()

	info, err := u.cache.ResolveTestMethod(test)
	if err != nil {
		u.log.Warn("Unable to resolve test", "test", test.FullyQualifiedName(), "err", err)
		return []*types.ExecutionResult{timed(types.NewErrorResult(test, types.OutcomeFailed, err), start)}
	}
	if !info.IsRunnable() {
		res := types.NewResult(test, types.OutcomeFailed)
		res.ErrorMessage = info.NotRunnableReason
		return []*types.ExecutionResult{timed(res, start)}
	}

	tc := u.newTestContext(info)

	if err := u.runAssemblyInitialize(ctx, info, tc); err != nil {
		return []*types.ExecutionResult{u.finish(types.NewErrorResult(test, types.OutcomeFailed, err), tc, start)}
	}
	if err := u.runClassInitialize(ctx, info, tc); err != nil {
		return []*types.ExecutionResult{u.finish(types.NewErrorResult(test, types.OutcomeFailed, err), tc, start)}
	}

	if info.DataSource == nil {
		return []*types.ExecutionResult{u.execute(ctx, info, tc, nil)}
	}
	return u.executeDataDriven(ctx, info, tc, start)
}

func (u *UnitTestRunner) newTestContext(info *metadata.TestMethodInfo) *types.TestContext {
	def := info.Definition
	tc := types.NewTestContext(def, u.params)
	for name, value := range info.Properties {
		tc.AddProperty(name, value)
	}
	if def.Owner != "" {
		tc.AddProperty(types.PropertyOwner, def.Owner)
	}
	if def.Priority != 0 {
		tc.AddProperty(types.PropertyPriority, def.Priority)
	}
	if len(def.Categories) > 0 {
		tc.AddProperty(types.PropertyTestCategory, slices.Clone(def.Categories))
	}
	if def.Description != "" {
		tc.AddProperty(types.PropertyDescription, def.Description)
	}
	if u.deployment != "" {
		tc.AddProperty(types.PropertyDeploymentDirectory, u.deployment)
	}
	return tc
}

// runAssemblyInitialize runs the container's assembly initialize once. A failure is cached and
// returned for every later test.
func (u *UnitTestRunner) runAssemblyInitialize(ctx context.Context, info *metadata.TestMethodInfo, tc *types.TestContext) error {
	if u.assemblyRan {
		return u.assemblyErr
	}
	u.assemblyRan = true
	u.assembly = info.Assembly

	m := info.Assembly.AssemblyInitialize
	if m == nil {
		return nil
	}
	u.log.Debug("Running assembly initialize", "method", m)
	if err := u.invokeStatic(ctx, m, tc); err != nil {
		u.assemblyErr = fmt.Errorf("Assembly Initialization method %s threw exception. %s. Aborting test execution.", m, describe(err))
	}
	return u.assemblyErr
}

// runClassInitialize runs the class initialize of the test's class once
func (u *UnitTestRunner) runClassInitialize(ctx context.Context, info *metadata.TestMethodInfo, tc *types.TestContext) error {
	if state, ok := u.classes[info.Class.Key]; ok {
		return state.err
	}
	state := &classState{meta: info.Class}
	u.classes[info.Class.Key] = state
	u.classOrder = append(u.classOrder, info.Class)

	m := info.Class.ClassInitialize
	if m == nil {
		return nil
	}
	u.log.Debug("Running class initialize", "method", m)
	if err := u.invokeStatic(ctx, m, tc); err != nil {
		state.err = fmt.Errorf("Class Initialization method %s threw exception. %s.", m, describe(err))
	}
	return state.err
}

func (u *UnitTestRunner) executeDataDriven(ctx context.Context, info *metadata.TestMethodInfo, tc *types.TestContext, start time.Time) []*types.ExecutionResult {
	test := info.Definition
	rows, err := datarows.Load(info.DataSource, u.dataDirectory())
	if err != nil {
		res := types.NewResult(test, types.OutcomeError)
		res.ErrorMessage = datarows.ConnectionFailedMessage(err)
		return []*types.ExecutionResult{u.finish(res, tc, start)}
	}
	if len(rows) == 0 {
		res := types.NewResult(test, types.OutcomeInconclusive)
		res.ErrorMessage = fmt.Sprintf("The data source of %s returned no rows.", test.FullyQualifiedName())
		return []*types.ExecutionResult{u.finish(res, tc, start)}
	}

	mode, err := datarows.ParseAccessMethod(info.DataSource.AccessMethod)
	var order datarows.Sequence
	if err == nil {
		order, err = datarows.Permutation(mode, len(rows))
	}
	if err != nil {
		return []*types.ExecutionResult{u.finish(types.NewErrorResult(test, types.OutcomeError, err), tc, start)}
	}

	results := make([]*types.ExecutionResult, 0, order.Len())
	for i := range order.All() {
		tc.SetDataRow(i, rows[i])
		res := u.execute(ctx, info, tc, rows[i])
		res.DataRowIndex = i
		results = append(results, res)
		tc.ClearMessages()
	}
	tc.SetDataRow(types.NoDataRow, nil)
	return results
}

func (u *UnitTestRunner) dataDirectory() string {
	if u.deployment != "" {
		return u.deployment
	}
	if fi, err := os.Stat(u.container); err == nil && !fi.IsDir() {
		return filepath.Dir(u.container)
	}
	return u.container
}

// execute runs one invocation: instantiate, base initialize queue, initialize, the test method,
// cleanup and the base cleanup queue
func (u *UnitTestRunner) execute(ctx context.Context, info *metadata.TestMethodInfo, tc *types.TestContext, args []any) (res *types.ExecutionResult) {
	test := info.Definition
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = u.finish(panicResult(test, r, debug.Stack()), tc, start)
		}
	}()

	class := info.Class
	inst, err := u.host.Instantiate(class.Key.Class)
	if err != nil {
		failed := types.NewResult(test, types.OutcomeFailed)
		failed.ErrorMessage = fmt.Sprintf("Unable to create instance of class %s. Error: %s.", class.Key.Class, describe(err))
		setStack(failed, err)
		return u.finish(failed, tc, start)
	}

	if err := u.injectTestContext(class, inst, tc); err != nil {
		failed := types.NewResult(test, types.OutcomeFailed)
		failed.ErrorMessage = fmt.Sprintf("Unable to set TestContext property for the class %s. Error: %s.", class.Key.Class, describe(err))
		setStack(failed, err)
		return u.finish(failed, tc, start)
	}

	res = types.NewResult(test, types.OutcomePassed)
	tc.SetOutcome(types.OutcomeInconclusive)

	initializers := append(slices.Clone(class.BaseTestInitializeQueue), class.TestInitialize)
	initialized := true
	for _, m := range initializers {
		if m == nil {
			continue
		}
		if err := inst.Invoke(ctx, m.Name(), tc, nil); err != nil {
			res.Outcome = types.OutcomeFailed
			res.ErrorMessage = fmt.Sprintf("Initialization method %s threw exception. %s.", m, describe(err))
			setStack(res, err)
			initialized = false
			break
		}
	}

	if initialized {
		u.invokeTest(ctx, info, inst, tc, args, res)
	}
	tc.SetOutcome(res.Outcome)

	cleanups := append([]*metadata.MethodInfo{class.TestCleanup}, class.BaseTestCleanupQueue...)
	for _, m := range cleanups {
		if m == nil {
			continue
		}
		if err := inst.Invoke(ctx, m.Name(), tc, nil); err != nil {
			msg := fmt.Sprintf("Test Cleanup method %s threw exception. %s.", m, describe(err))
			if res.Outcome == types.OutcomePassed {
				res.Outcome = types.OutcomeFailed
				res.ErrorMessage = msg
				setStack(res, err)
			} else {
				res.ErrorMessage = strings.TrimSpace(res.ErrorMessage + "\n" + msg)
			}
		}
	}
	return u.finish(res, tc, start)
}

// injectTestContext sets the TestContext on classes that declare a settable TestContext property
func (u *UnitTestRunner) injectTestContext(class *metadata.ClassMetadata, inst host.Instance, tc *types.TestContext) error {
	if class.TestContextProperty == nil {
		return nil
	}
	receiver, ok := inst.(host.ContextReceiver)
	if !ok {
		return nil
	}
	return receiver.SetTestContext(tc)
}

func (u *UnitTestRunner) invokeTest(ctx context.Context, info *metadata.TestMethodInfo, inst host.Instance, tc *types.TestContext, args []any, res *types.ExecutionResult) {
	if info.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, info.Timeout)
		defer cancel()
	}

	err := inst.Invoke(ctx, info.Method.Name(), tc, args)
	var failure *host.FailureError
	switch {
	case err == nil:
		res.Outcome = types.OutcomePassed
	case errors.Is(err, host.ErrInconclusive):
		res.Outcome = types.OutcomeInconclusive
		res.ErrorMessage = fmt.Sprintf("Assert.Inconclusive failed. %s", err)
	case info.Timeout > 0 && errors.Is(err, context.DeadlineExceeded):
		res.Outcome = types.OutcomeFailed
		res.ErrorMessage = fmt.Sprintf("Test '%s' exceeded execution timeout period.", info.Method.Name())
	case errors.As(err, &failure):
		res.Outcome = types.OutcomeFailed
		res.ErrorMessage = failure.Message
		res.StandardError = failure.Output
	default:
		res.Outcome = types.OutcomeFailed
		res.ErrorMessage = fmt.Sprintf("Test method %s threw exception: %s", info.Method.String(), describe(err))
		setStack(res, err)
	}
}

func (u *UnitTestRunner) invokeStatic(ctx context.Context, m *metadata.MethodInfo, tc *types.TestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &host.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return u.host.InvokeStatic(ctx, m.Class, m.Name(), tc)
}

// RunCleanup runs the class cleanups in reverse initialization order, then the assembly cleanup.
// It collects their output and reports failures as warnings.
func (u *UnitTestRunner) RunCleanup(ctx context.Context) *types.CleanupResult {
	result := &types.CleanupResult{}
	tc := types.NewTestContext(types.TestDefinition{Container: u.container}, u.params)

	for _, class := range slices.Backward(u.classOrder) {
		m := class.ClassCleanup
		if m == nil {
			continue
		}
		if err := u.invokeStatic(ctx, m, tc); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Class Cleanup method %s failed. Error Message: %s.", m, describe(err)))
			result.DebugTrace += stackOf(err)
		}
	}

	if u.assemblyRan && u.assembly != nil && u.assembly.AssemblyCleanup != nil {
		m := u.assembly.AssemblyCleanup
		if err := u.invokeStatic(ctx, m, tc); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Assembly Cleanup method %s failed. Error Message: %s.", m, describe(err)))
			result.DebugTrace += stackOf(err)
		}
	}

	result.StandardOut = tc.Messages()
	return result
}

func (u *UnitTestRunner) finish(res *types.ExecutionResult, tc *types.TestContext, start time.Time) *types.ExecutionResult {
	timed(res, start)
	res.StandardOut = tc.Messages()
	res.ResultFiles = tc.ResultFiles()
	return res
}

func timed(res *types.ExecutionResult, start time.Time) *types.ExecutionResult {
	res.StartTime = start
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(start)
	return res
}

func panicResult(test types.TestDefinition, value any, stack []byte) *types.ExecutionResult {
	res := types.NewResult(test, types.OutcomeFailed)
	res.ErrorMessage = fmt.Sprintf("Test %s panicked: %v", test.FullyQualifiedName(), value)
	res.ErrorStackTrace = string(stack)
	return res
}

// describe renders an error from test code for a result message
func describe(err error) string {
	var p *host.PanicError
	if errors.As(err, &p) {
		return fmt.Sprintf("panic: %v", p.Value)
	}
	return err.Error()
}

func stackOf(err error) string {
	var p *host.PanicError
	if errors.As(err, &p) {
		return string(p.Stack)
	}
	return ""
}

func setStack(res *types.ExecutionResult, err error) {
	if s := stackOf(err); s != "" {
		res.ErrorStackTrace = s
	}
}

// rowLabel formats a data row for span attributes
func rowLabel(index int) string {
	if index == types.NoDataRow {
		return ""
	}
	return strconv.Itoa(index)
}
