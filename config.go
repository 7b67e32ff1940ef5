package testengine

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-testengine/flags"
	"github.com/ethereum-optimism/infra/op-testengine/host"
	"github.com/ethereum-optimism/infra/op-testengine/introspect"
)

// Config holds the application configuration
type Config struct {
	TestDir                 string        // Directory holding the go.mod containers are resolved against
	Containers              []string      // Go package paths or manifest files
	Source                  string        // flags.SourceGo or flags.SourceManifest
	FilterText              string        // Test case filter; overrides the settings filter
	Settings                *RunSettings  // Run settings, empty when no settings file was given
	GoBinary                string        // Go binary used by the go test host
	RunInterval             time.Duration // Interval between test runs
	RunOnce                 bool          // Indicates if the service should exit after one test run
	Concurrency             int           // Containers run at the same time
	LogDir                  string        // Directory to store test logs
	ListOnly                bool          // Print discovered tests and exit
	MapInconclusiveToFailed bool          // Report inconclusive results as failed
	DeploymentDir           string        // Root of deployment directories, empty disables deployment
	DeploymentItems         []string      // Items deployed for every run
	HealthzAddr             string
	MetricsConfig           opmetrics.CLIConfig
	Log                     log.Logger

	// Introspector and HostFactory replace the sources derived from Source and GoBinary when set
	Introspector introspect.Introspector
	HostFactory  host.Factory
	// Stdout receives the result tables; defaults to os.Stdout
	Stdout io.Writer
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	containers := ctx.StringSlice(flags.Containers.Name)
	if len(containers) == 0 {
		return nil, errors.New("at least one container is required")
	}

	absTestDir, err := filepath.Abs(ctx.String(flags.TestDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", ctx.String(flags.TestDir.Name), err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	settings := &RunSettings{}
	if path := ctx.String(flags.Settings.Name); path != "" {
		settings, err = LoadRunSettings(path)
		if err != nil {
			return nil, err
		}
	}

	deploymentDir := ctx.String(flags.DeploymentDir.Name)
	if deploymentDir != "" {
		deploymentDir, err = filepath.Abs(deploymentDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for deployment directory: %w", err)
		}
	}

	concurrency := ctx.Int(flags.Concurrency.Name)
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	return &Config{
		TestDir:                 absTestDir,
		Containers:              containers,
		Source:                  ctx.String(flags.Source.Name),
		FilterText:              ctx.String(flags.Filter.Name),
		Settings:                settings,
		GoBinary:                ctx.String(flags.GoBinary.Name),
		RunInterval:             runInterval,
		RunOnce:                 runInterval == 0,
		Concurrency:             concurrency,
		LogDir:                  logDir,
		ListOnly:                ctx.Bool(flags.List.Name),
		MapInconclusiveToFailed: ctx.Bool(flags.MapInconclusiveToFailed.Name),
		DeploymentDir:           deploymentDir,
		DeploymentItems:         ctx.StringSlice(flags.DeploymentItems.Name),
		HealthzAddr:             ctx.String(flags.HealthzAddr.Name),
		MetricsConfig:           metricsCfg,
		Log:                     log,
	}, nil
}
