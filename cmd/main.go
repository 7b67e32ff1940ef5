package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	testengine "github.com/ethereum-optimism/infra/op-testengine"
	"github.com/ethereum-optimism/infra/op-testengine/exitcodes"
	"github.com/ethereum-optimism/infra/op-testengine/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testengine"
	app.Usage = "Unit test execution engine"
	app.Description = "op-testengine discovers annotated test classes and runs them with their full lifecycle"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		cli.HandleExitCoder(exitCoder(err))
	}
	return app
}

// exitCoder maps an application error to the process exit code. Engine errors carry their own
// code; anything else counts as a test failure.
func exitCoder(err error) cli.ExitCoder {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return cli.Exit(err.Error(), exitcodes.TestFailure)
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := testengine.NewConfig(ctx, logger)
	if err != nil {
		return nil, testengine.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	engine, err := testengine.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, testengine.NewRuntimeError(fmt.Errorf("failed to create test engine: %w", err))
	}
	return engine, nil
}
