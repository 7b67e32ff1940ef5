package testengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-testengine/flags"
	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/logging"
	"github.com/ethereum-optimism/infra/op-testengine/metadata"
	"github.com/ethereum-optimism/infra/op-testengine/metrics"
	"github.com/ethereum-optimism/infra/op-testengine/reporting"
	"github.com/ethereum-optimism/infra/op-testengine/runner"
	"github.com/ethereum-optimism/infra/op-testengine/service"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

var _ cliapp.Lifecycle = (*Engine)(nil)

// Engine discovers and runs test containers once or periodically.
type Engine struct {
	config    *Config
	version   string
	factory   host.Factory
	scheduler *Scheduler
	service   *service.Service
	stdout    io.Writer

	// containers are the resolved containers of every run
	containers []string
	// introspector is fixed when it cannot change between runs; otherwise one is made per run
	introspector introspect.Introspector

	mu     sync.Mutex
	result *runner.RunResult

	running atomic.Bool

	shutdownCallback func(error)
}

// New creates an engine. shutdownCallback is invoked once a run-once engine has finished successfully.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Engine, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config.Log is required")
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.RunInterval <= 0 {
		config.RunOnce = true
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating test engine with config",
		"testDir", config.TestDir,
		"containers", config.Containers,
		"source", config.Source,
		"filter", config.FilterText,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"concurrency", config.Concurrency)

	e := &Engine{
		config:           config,
		version:          version,
		stdout:           config.Stdout,
		introspector:     config.Introspector,
		containers:       config.Containers,
		shutdownCallback: shutdownCallback,
	}
	if e.stdout == nil {
		e.stdout = os.Stdout
	}

	if e.introspector == nil && config.Source == flags.SourceManifest {
		manifest, err := introspect.NewManifest(introspect.ManifestConfig{
			Log:   config.Log,
			Files: config.Containers,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load manifests: %w", err)
		}
		e.introspector = manifest
		e.containers = manifest.Containers()
	} else if e.introspector == nil {
		containers := make([]string, 0, len(config.Containers))
		for _, c := range config.Containers {
			dir, err := introspect.ResolvePackageDir(c, config.TestDir)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve container %s: %w", c, err)
			}
			containers = append(containers, dir)
		}
		e.containers = containers
	}

	e.factory = config.HostFactory
	if e.factory == nil {
		factory, err := host.NewGoTest(host.GoTestConfig{
			Log:      config.Log,
			GoBinary: config.GoBinary,
			WorkDir:  config.TestDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create go test host: %w", err)
		}
		e.factory = factory
	}

	e.scheduler = NewScheduler(config.RunInterval, config.RunOnce, config.Log, e.runTests)

	if !config.ListOnly {
		metricsAddr := ""
		if config.MetricsConfig.Enabled {
			metricsAddr = fmt.Sprintf("%s:%d", config.MetricsConfig.ListenAddr, config.MetricsConfig.ListenPort)
		}
		if config.HealthzAddr != "" || metricsAddr != "" {
			e.service = service.New(service.Config{
				Log:         config.Log,
				HealthzAddr: config.HealthzAddr,
				MetricsAddr: metricsAddr,
			})
		}
	}

	config.Log.Info("testengine.New: created test engine", "containers", len(e.containers))
	return e, nil
}

// Start implements the cliapp.Lifecycle interface.
func (e *Engine) Start(ctx context.Context) error {
	e.running.Store(true)

	if e.service != nil {
		e.service.Start(ctx)
	}

	if e.config.ListOnly {
		if err := e.listTests(); err != nil {
			return err
		}
		go e.shutdownCallback(nil)
		return nil
	}

	if e.config.RunOnce {
		e.config.Log.Info("Starting test engine in run-once mode")
	} else {
		e.config.Log.Info("Starting test engine in continuous mode", "interval", e.config.RunInterval)
	}

	if err := e.scheduler.Start(ctx); err != nil {
		e.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if e.config.RunOnce {
		e.config.Log.Info("Tests completed, exiting (run-once mode)")
		if result := e.Result(); result != nil && result.Status == types.OutcomeFailed {
			e.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(result.Stats.Failed+result.Stats.Errored, result.String())
		}
		go e.shutdownCallback(nil)
	}
	return nil
}

// listTests prints the discovered tests without running them
func (e *Engine) listTests() error {
	cache, err := e.newCache()
	if err != nil {
		return NewRuntimeError(err)
	}
	driver, err := runner.NewDriver(runner.Config{
		Log:     e.config.Log,
		Cache:   cache,
		Factory: e.factory,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	collector := runner.NewCollector("")
	tests := driver.Discover(e.containers, runner.MultiRecorder{collector, runner.NewLogRecorder(e.config.Log)}, types.NewCancellationToken())
	reporting.WriteTestList(e.stdout, tests)
	reporting.WriteMessages(e.stdout, collector.Finalize().Messages)
	return nil
}

// runTests performs one run over every container and publishes its results. Cancelling ctx stops
// the run at the next test boundary.
func (e *Engine) runTests(ctx context.Context) error {
	runID := uuid.New().String()
	logger := e.config.Log.New("run_id", runID)
	logger.Info("Running all tests...")

	cache, err := e.newCache()
	if err != nil {
		return NewRuntimeError(err)
	}

	var deployment runner.Deployment
	if e.config.DeploymentDir != "" {
		deployment, err = runner.NewDirectoryDeployment(runner.DirectoryDeploymentConfig{
			Log:   logger,
			Root:  e.config.DeploymentDir,
			Items: e.config.DeploymentItems,
		})
		if err != nil {
			return NewRuntimeError(err)
		}
	}

	driver, err := runner.NewDriver(runner.Config{
		Log:         logger,
		Cache:       cache,
		Factory:     e.factory,
		Deployment:  deployment,
		Concurrency: e.config.Concurrency,
		RunID:       runID,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	files, err := logging.NewFileRecorder(logging.FileRecorderConfig{
		Log:     logger,
		BaseDir: e.config.LogDir,
		RunID:   runID,
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file recorder: %w", err))
	}

	collector := runner.NewCollector(runID)
	recorder := runner.MultiRecorder{collector, runner.NewLogRecorder(logger), files}

	token := types.NewCancellationToken()
	stop := token.CancelOnDone(ctx)
	defer stop()

	runCtx := e.config.Settings.RunContext(e.config.FilterText, e.config.MapInconclusiveToFailed)
	runErr := driver.RunContainers(ctx, e.containers, runCtx, recorder, token)

	result := collector.Finalize()
	e.mu.Lock()
	e.result = result
	e.mu.Unlock()

	reporting.WriteResultsTable(e.stdout, result)
	reporting.WriteMessages(e.stdout, result.Messages)

	if err := files.LogSummary(result.String()); err != nil {
		logger.Error("Failed to write summary", "error", err)
	}
	if err := files.Complete(); err != nil {
		logger.Error("Failed to complete test logs", "error", err)
	}

	stats := result.Stats
	metrics.RecordRun(runID, string(result.Status), stats.Total, stats.Passed, stats.Failed+stats.Errored, result.WallClockTime)

	if runErr != nil {
		logger.Error("Runtime error running tests", "error", runErr)
		return NewRuntimeError(runErr)
	}
	if token.IsCancelled() {
		logger.Warn("Test run cancelled", "status", result.Status)
	}
	logger.Info("Test run completed", "status", result.Status, "logs", files.RunDirectory())
	return nil
}

// newCache creates the metadata cache of one run. Go sources are parsed again for every run so
// edits between periodic runs are picked up.
func (e *Engine) newCache() (*metadata.Cache, error) {
	in := e.introspector
	if in == nil {
		gs, err := introspect.NewGoSource(introspect.GoSourceConfig{
			Log:     e.config.Log,
			WorkDir: e.config.TestDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create go source introspector: %w", err)
		}
		in = gs
	}
	return metadata.New(metadata.Config{Log: e.config.Log, Introspector: in})
}

// Result returns the result of the latest completed run
func (e *Engine) Result() *runner.RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Stop implements the cliapp.Lifecycle interface.
func (e *Engine) Stop(ctx context.Context) error {
	e.config.Log.Info("Stopping test engine")
	if !e.running.Swap(false) {
		e.config.Log.Debug("Test engine already stopped, nothing to do")
		return nil
	}

	e.scheduler.Stop()
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := e.scheduler.Wait(waitCtx); err != nil {
		e.config.Log.Warn("Scheduler did not shut down cleanly", "error", err)
	}
	if e.service != nil {
		e.service.Shutdown()
	}

	e.config.Log.Info("Test engine stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (e *Engine) Stopped() bool {
	return !e.running.Load()
}
