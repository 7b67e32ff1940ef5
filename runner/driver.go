package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-testengine/filter"
	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/metadata"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Config contains driver configuration
type Config struct {
	Log     log.Logger
	Cache   *metadata.Cache
	Factory host.Factory
	// Deployment is optional
	Deployment Deployment
	// Concurrency bounds the containers run at the same time; values below 2 run them sequentially
	Concurrency int
	// RunID labels the metrics of the run
	RunID string
}

// Driver runs tests container by container
type Driver struct {
	log         log.Logger
	cache       *metadata.Cache
	factory     host.Factory
	deployment  Deployment
	concurrency int
	runID       string
	tracer      trace.Tracer
}

// runState is shared by the container loops of one RunTests invocation
type runState struct {
	runCtx      RunContext
	recorder    Recorder
	token       *types.CancellationToken
	expr        *filter.Expression
	deployDir   string
	hasFailures atomic.Bool
}

// NewDriver creates a driver
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("metadata cache is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("host factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Driver{
		log:         cfg.Log,
		cache:       cfg.Cache,
		factory:     cfg.Factory,
		deployment:  cfg.Deployment,
		concurrency: cfg.Concurrency,
		runID:       cfg.RunID,
		tracer:      otel.Tracer("test engine"),
	}, nil
}

// Discover lists the tests of containers in order. Classes that fail to load are reported as
// warnings; cancellation is honored between containers.
func (d *Driver) Discover(containers []string, recorder Recorder, token *types.CancellationToken) []types.TestDefinition {
	var tests []types.TestDefinition
	for _, container := range containers {
		if token != nil && token.IsCancelled() {
			break
		}
		found, err := d.cache.Discover(container, func(class string, err error) {
			d.sendMessage(recorder, MessageWarning, fmt.Sprintf("Unable to load class %s from %s: %v", class, container, err))
		})
		if err != nil {
			d.sendMessage(recorder, MessageError, fmt.Sprintf("Unable to discover tests in %s: %v", container, err))
			continue
		}
		d.log.Debug("Discovered tests", "container", container, "count", len(found))
		tests = append(tests, found...)
	}
	return tests
}

// RunContainers discovers the tests of containers and runs them
func (d *Driver) RunContainers(ctx context.Context, containers []string, runCtx RunContext, recorder Recorder, token *types.CancellationToken) error {
	tests := d.Discover(containers, recorder, token)
	if token != nil && token.IsCancelled() {
		return nil
	}
	return d.RunTests(ctx, tests, runCtx, recorder, token)
}

// RunTests runs tests grouped by container. It returns an error only for run-level failures
// such as an invalid filter or a failed deployment; test failures are reported as results.
func (d *Driver) RunTests(ctx context.Context, tests []types.TestDefinition, runCtx RunContext, recorder Recorder, token *types.CancellationToken) error {
	if token == nil {
		token = types.NewCancellationToken()
	}
	expr, err := filter.Compile(runCtx.FilterText)
	if err != nil {
		d.sendMessage(recorder, MessageError, err.Error())
		return fmt.Errorf("compiling test filter: %w", err)
	}

	state := &runState{runCtx: runCtx, recorder: recorder, token: token, expr: expr}

	deployed := false
	if d.deployment != nil {
		deployed, err = d.deployment.Deploy(tests, runCtx)
		if err != nil {
			d.sendMessage(recorder, MessageError, fmt.Sprintf("Deployment failed: %v", err))
			return fmt.Errorf("deploying tests: %w", err)
		}
		if deployed {
			state.deployDir = d.deployment.DeploymentDirectory()
		}
	}

	order, groups := types.GroupByContainer(tests)
	d.log.Info("Running tests", "tests", len(tests), "containers", len(order), "concurrency", d.concurrency)

	if d.concurrency > 1 {
		if _, ok := recorder.(*SyncRecorder); !ok {
			state.recorder = NewSyncRecorder(recorder)
		}
		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for _, container := range order {
			if token.IsCancelled() {
				break
			}
			g.Go(func() error {
				d.runContainer(ctx, container, groups[container], state)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, container := range order {
			if token.IsCancelled() {
				break
			}
			d.runContainer(ctx, container, groups[container], state)
		}
	}

	if token.IsCancelled() {
		d.log.Warn("Test run cancelled")
	}
	if deployed {
		if state.hasFailures.Load() {
			d.log.Info("Keeping deployment directory of failed run", "dir", state.deployDir)
		} else if err := d.deployment.Cleanup(); err != nil {
			d.log.Warn("Failed to clean up deployment", "err", err)
		}
	}
	return nil
}

// runContainer runs the tests of one container inside one host
func (d *Driver) runContainer(ctx context.Context, container string, tests []types.TestDefinition, state *runState) {
	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("container %s", container))
	defer span.End()
	// Test code only stops through the cancellation token, between tests. A started test and
	// the container cleanup always run to completion.
	ctx = context.WithoutCancel(ctx)
	logger := d.log.New("container", container)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Container run panicked", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			d.sendMessage(state.recorder, MessageError, fmt.Sprintf("Test execution of %s aborted: %v", container, r))
		}
	}()

	params := state.runCtx.ParametersFor(container)
	h, err := d.factory.CreateIsolatedHost(ctx, container, host.Settings{
		Parameters:          params,
		DeploymentDirectory: state.deployDir,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordErrorDetails("host", err)
		d.sendMessage(state.recorder, MessageError, fmt.Sprintf("Could not create a host for %s: %v", container, err))
		return
	}
	defer func() {
		if err := h.Close(); err != nil && !errors.Is(err, host.ErrHostClosed) {
			logger.Warn("Failed to close host", "err", err)
		}
	}()

	unit, err := NewUnitTestRunner(UnitTestRunnerConfig{
		Log:                 logger,
		Host:                h,
		Cache:               d.cache,
		Container:           container,
		Parameters:          params,
		DeploymentDirectory: state.deployDir,
	})
	if err != nil {
		d.sendMessage(state.recorder, MessageError, err.Error())
		return
	}

	var pending []*types.ExecutionResult
	defer func() {
		d.sendResults(pending, state)
	}()

	func() {
		defer func() {
			cleanup := unit.RunCleanup(ctx)
			if n := len(pending); n > 0 {
				appendCleanup(pending[n-1], cleanup)
			}
			for _, w := range cleanup.Warnings {
				d.sendMessage(state.recorder, MessageWarning, w)
			}
		}()

		for _, test := range tests {
			if !filter.SafeMatch(state.expr, filter.TestPropertyProvider(test)) {
				continue
			}
			d.sendResults(pending, state)
			pending = nil

			if state.token.IsCancelled() {
				break
			}
			d.record(func() error { return state.recorder.RecordStart(test) })
			pending = d.runTest(ctx, unit, test)
		}
	}()
}

func (d *Driver) runTest(ctx context.Context, unit *UnitTestRunner, test types.TestDefinition) []*types.ExecutionResult {
	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("test %s", test.FullyQualifiedName()))
	defer span.End()

	results := unit.RunSingleTest(ctx, test)
	for _, res := range results {
		if res.Outcome.IsFailure() {
			span.SetStatus(codes.Error, res.ErrorMessage)
			span.SetAttributes(attribute.String("failed_row", rowLabel(res.DataRowIndex)))
		}
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results
}

// sendResults hands results to the recorder. Recorder errors and panics are logged and swallowed.
func (d *Driver) sendResults(results []*types.ExecutionResult, state *runState) {
	for _, res := range results {
		if res.IsDataRow() {
			res.DisplayName = types.DataRowDisplayName(res.Test.GetName(), res.DataRowIndex)
		}
		if state.runCtx.MapInconclusiveToFailed && res.Outcome == types.OutcomeInconclusive {
			res.Outcome = types.OutcomeFailed
		}
		if res.Outcome.IsFailure() {
			state.hasFailures.Store(true)
		}
		metrics.RecordTestResult(d.runID, res)

		d.record(func() error { return state.recorder.RecordEnd(res.Test, res.Outcome) })
		d.record(func() error { return state.recorder.RecordResult(res) })
	}
}

func (d *Driver) sendMessage(recorder Recorder, level MessageLevel, message string) {
	d.record(func() error { return recorder.SendMessage(level, message) })
}

func (d *Driver) record(fn func() error) {
	err := callRecorder(fn)
	switch {
	case err == nil:
	case errors.Is(err, ErrTestCanceled):
		d.log.Debug("Recorder rejected call, run was canceled")
	default:
		d.log.Warn("Recorder call failed", "err", err)
	}
}

// appendCleanup adds the container cleanup output to the last result of the container
func appendCleanup(res *types.ExecutionResult, cleanup *types.CleanupResult) {
	if cleanup == nil {
		return
	}
	res.StandardOut += cleanup.StandardOut
	res.StandardError += cleanup.StandardError
	res.DebugTrace += cleanup.DebugTrace
}
