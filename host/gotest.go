package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/introspect"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// Go test2json (TestEvent) action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// ContextFileEnvVar names the JSON file holding the InvocationContext of a go test subprocess
const ContextFileEnvVar = "TESTENGINE_CONTEXT_FILE"

// InvocationContext is handed to a go test subprocess through ContextFileEnvVar
type InvocationContext struct {
	Class        string         `json:"class"`
	Method       string         `json:"method"`
	Properties   map[string]any `json:"properties,omitempty"`
	DataRowIndex int            `json:"dataRowIndex"`
	DataRow      []any          `json:"dataRow,omitempty"`
}

// LoadInvocationContext reads the invocation context inside a go test subprocess. It returns nil
// when the test was not started by the engine.
func LoadInvocationContext() (*InvocationContext, error) {
	path := os.Getenv(ContextFileEnvVar)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading invocation context: %w", err)
	}
	var ic InvocationContext
	if err := json.Unmarshal(data, &ic); err != nil {
		return nil, fmt.Errorf("parsing invocation context: %w", err)
	}
	return &ic, nil
}

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Action  string  // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string  // The package being tested
	Test    string  // The test function name (may be empty for package events)
	Output  string  // Output text (may be empty)
	Elapsed float64 // Elapsed time in seconds for the specific action
}

// GoTestConfig contains go test host configuration
type GoTestConfig struct {
	Log      log.Logger
	GoBinary string
	// WorkDir holds the go.mod that import-path containers are resolved against
	WorkDir string
}

// GoTest creates hosts that run each method as `go test -run ^Method$` in the container's
// package directory. Class instances carry no state across invocations.
type GoTest struct {
	log      log.Logger
	goBinary string
	workDir  string
}

var _ Factory = (*GoTest)(nil)

// NewGoTest creates a go test host factory
func NewGoTest(cfg GoTestConfig) (*GoTest, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir: %w", err)
	}
	return &GoTest{log: cfg.Log, goBinary: cfg.GoBinary, workDir: abs}, nil
}

// CreateIsolatedHost implements Factory
func (f *GoTest) CreateIsolatedHost(ctx context.Context, container string, settings Settings) (Host, error) {
	dir, err := introspect.ResolvePackageDir(container, f.workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownContainer, container, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a package directory", ErrUnknownContainer, dir)
	}
	return &goTestHost{
		log:      f.log.New("container", container),
		goBinary: f.goBinary,
		dir:      dir,
		settings: settings,
	}, nil
}

type goTestHost struct {
	log      log.Logger
	goBinary string
	dir      string
	settings Settings
	closed   atomic.Bool
}

func (h *goTestHost) Instantiate(class string) (Instance, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}
	return &goTestInstance{host: h, class: class}, nil
}

func (h *goTestHost) InvokeStatic(ctx context.Context, class, method string, tc *types.TestContext) error {
	return h.run(ctx, class, method, tc)
}

func (h *goTestHost) Close() error {
	if h.closed.Swap(true) {
		return ErrHostClosed
	}
	return nil
}

type goTestInstance struct {
	host  *goTestHost
	class string
}

func (i *goTestInstance) Invoke(ctx context.Context, method string, tc *types.TestContext, _ []any) error {
	return i.host.run(ctx, i.class, method, tc)
}

func (h *goTestHost) run(ctx context.Context, class, method string, tc *types.TestContext) error {
	if h.closed.Load() {
		return ErrHostClosed
	}

	contextFile, err := h.writeContext(class, method, tc)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(contextFile)
	}()

	args := []string{"test", "-run", fmt.Sprintf("^%s$", method), "-count", "1", "-v", "-json", "."}
	if deadline, ok := ctx.Deadline(); ok {
		args = append(args, "-timeout", max(time.Until(deadline).Round(time.Millisecond), time.Millisecond).String())
	}
	cmd := exec.CommandContext(ctx, h.goBinary, args...)
	cmd.Dir = h.dir
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), fmt.Sprintf("%s=%s", ContextFileEnvVar, contextFile)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.log.Debug("Running go test", "dir", cmd.Dir, "method", method, "command", cmd.String())
	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("method did not complete: %w", ctx.Err())
	}

	action, output := ParseTestOutput(stdout.Bytes(), method)
	if tc != nil && output != "" {
		_, _ = tc.Write([]byte(output))
	}

	switch action {
	case ActionPass:
		return nil
	case ActionSkip:
		return fmt.Errorf("%w: %s was skipped", ErrInconclusive, method)
	case ActionFail:
		return &FailureError{Message: fmt.Sprintf("%s failed", method), Output: output}
	}

	msg := fmt.Sprintf("%s did not run", method)
	if stderr.Len() > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(stderr.String()))
	} else if runErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, runErr)
	}
	return &FailureError{Message: msg, Output: output}
}

func (h *goTestHost) writeContext(class, method string, tc *types.TestContext) (string, error) {
	ic := InvocationContext{Class: class, Method: method, DataRowIndex: types.NoDataRow}
	if tc != nil {
		ic.Properties = tc.Properties()
		ic.DataRow, ic.DataRowIndex = tc.DataRow()
	}

	f, err := os.CreateTemp("", "testengine-context-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create context file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(ic); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write context file: %w", err)
	}
	return f.Name(), nil
}

// ParseTestOutput reads go test -json output and returns the terminal action of the named test
// together with its output. The action is empty when the test never finished.
func ParseTestOutput(output []byte, test string) (string, string) {
	var action string
	var out strings.Builder
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Test != test && !strings.HasPrefix(event.Test, test+"/") {
			continue
		}
		switch event.Action {
		case ActionOutput:
			out.WriteString(event.Output)
		case ActionPass, ActionFail, ActionSkip:
			if event.Test == test {
				action = event.Action
			}
		}
	}
	return action, out.String()
}
