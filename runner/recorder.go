package runner

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// ErrTestCanceled may be returned by a recorder that no longer accepts results
var ErrTestCanceled = errors.New("test run canceled")

// MessageLevel is the severity of a run message
type MessageLevel string

const (
	MessageInformational MessageLevel = "info"
	MessageWarning       MessageLevel = "warning"
	MessageError         MessageLevel = "error"
)

// Recorder receives the progress of a run. Implementations are called from a single container
// loop at a time unless wrapped in a SyncRecorder.
type Recorder interface {
	RecordStart(test types.TestDefinition) error
	RecordEnd(test types.TestDefinition, outcome types.Outcome) error
	RecordResult(result *types.ExecutionResult) error
	SendMessage(level MessageLevel, message string) error
}

var (
	_ Recorder = (*SyncRecorder)(nil)
	_ Recorder = (MultiRecorder)(nil)
	_ Recorder = (*LogRecorder)(nil)
)

// SyncRecorder serializes calls to a recorder shared by concurrent container loops
type SyncRecorder struct {
	mu    sync.Mutex
	inner Recorder
}

// NewSyncRecorder wraps r
func NewSyncRecorder(r Recorder) *SyncRecorder {
	return &SyncRecorder{inner: r}
}

func (s *SyncRecorder) RecordStart(test types.TestDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RecordStart(test)
}

func (s *SyncRecorder) RecordEnd(test types.TestDefinition, outcome types.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RecordEnd(test, outcome)
}

func (s *SyncRecorder) RecordResult(result *types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.RecordResult(result)
}

func (s *SyncRecorder) SendMessage(level MessageLevel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SendMessage(level, message)
}

// MultiRecorder fans every call out to all of its recorders. A failing or panicking recorder
// does not prevent the others from being called.
type MultiRecorder []Recorder

func (m MultiRecorder) each(fn func(Recorder) error) error {
	var errs []error
	for _, r := range m {
		if err := callRecorder(func() error { return fn(r) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RecordStart(test types.TestDefinition) error {
	return m.each(func(r Recorder) error { return r.RecordStart(test) })
}

func (m MultiRecorder) RecordEnd(test types.TestDefinition, outcome types.Outcome) error {
	return m.each(func(r Recorder) error { return r.RecordEnd(test, outcome) })
}

func (m MultiRecorder) RecordResult(result *types.ExecutionResult) error {
	return m.each(func(r Recorder) error { return r.RecordResult(result) })
}

func (m MultiRecorder) SendMessage(level MessageLevel, message string) error {
	return m.each(func(r Recorder) error { return r.SendMessage(level, message) })
}

// LogRecorder writes run progress to a logger
type LogRecorder struct {
	log log.Logger
}

// NewLogRecorder creates a recorder logging to logger
func NewLogRecorder(logger log.Logger) *LogRecorder {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &LogRecorder{log: logger}
}

func (l *LogRecorder) RecordStart(test types.TestDefinition) error {
	l.log.Debug("Test started", "test", test.FullyQualifiedName(), "container", test.Container)
	return nil
}

func (l *LogRecorder) RecordEnd(test types.TestDefinition, outcome types.Outcome) error {
	l.log.Debug("Test finished", "test", test.FullyQualifiedName(), "outcome", outcome)
	return nil
}

func (l *LogRecorder) RecordResult(result *types.ExecutionResult) error {
	attrs := []any{"test", result.Name(), "class", result.Test.Class, "container", result.Test.Container,
		"outcome", result.Outcome, "duration", result.Duration}
	switch result.Outcome {
	case types.OutcomePassed:
		l.log.Info("Test passed", attrs...)
	case types.OutcomeInconclusive:
		l.log.Warn("Test inconclusive", append(attrs, "message", result.ErrorMessage)...)
	default:
		l.log.Error("Test failed", append(attrs, "message", result.ErrorMessage)...)
	}
	return nil
}

func (l *LogRecorder) SendMessage(level MessageLevel, message string) error {
	switch level {
	case MessageError:
		l.log.Error(message)
	case MessageWarning:
		l.log.Warn(message)
	default:
		l.log.Info(message)
	}
	return nil
}

// callRecorder invokes fn, turning a panic into an error
func callRecorder(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recorder panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
