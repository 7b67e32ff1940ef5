package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTENGINE"

// Introspection sources
const (
	SourceGo       = "go"
	SourceManifest = "manifest"
)

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Directory holding the go.mod that containers are resolved against",
	}
	Containers = &cli.StringSliceFlag{
		Name:     "containers",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CONTAINERS"),
		Usage:    "Test containers to run: Go package paths, or manifest files with --source=manifest",
	}
	Source = &cli.StringFlag{
		Name:    "source",
		Value:   SourceGo,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SOURCE"),
		Usage:   fmt.Sprintf("Where test metadata is read from: '%s' (//testengine: directives) or '%s' (YAML)", SourceGo, SourceManifest),
	}
	Filter = &cli.StringFlag{
		Name:    "filter",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FILTER"),
		Usage:   "Test case filter, e.g. 'TestCategory=fast&Priority!=3'. Overrides the settings file.",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "Path to a YAML run settings file with session parameters",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   1,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of containers run at the same time",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store test logs",
	}
	List = &cli.BoolFlag{
		Name:    "list",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LIST"),
		Usage:   "Print the discovered tests without running them",
	}
	MapInconclusiveToFailed = &cli.BoolFlag{
		Name:    "map-inconclusive-to-failed",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAP_INCONCLUSIVE_TO_FAILED"),
		Usage:   "Report inconclusive tests as failed",
	}
	DeploymentDir = &cli.StringFlag{
		Name:    "deployment-dir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEPLOYMENT_DIR"),
		Usage:   "Directory deployment items are copied under; deployment is disabled when empty",
	}
	DeploymentItems = &cli.StringSliceFlag{
		Name:    "deployment-items",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEPLOYMENT_ITEMS"),
		Usage:   "Files or directories, relative to each container, deployed for every run",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz server",
	}
)

var requiredFlags = []cli.Flag{
	Containers,
}

var optionalFlags = []cli.Flag{
	TestDir,
	Source,
	Filter,
	Settings,
	GoBinary,
	RunInterval,
	Concurrency,
	LogDir,
	List,
	MapInconclusiveToFailed,
	DeploymentDir,
	DeploymentItems,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	switch source := ctx.String(Source.Name); source {
	case SourceGo, SourceManifest:
	default:
		return fmt.Errorf("invalid source %q, must be one of: %s, %s", source, SourceGo, SourceManifest)
	}
	return nil
}
