package types

import (
	"fmt"
	"time"
)

// Outcome is the terminal state of a single test invocation
type Outcome string

const (
	OutcomePassed       Outcome = "passed"
	OutcomeFailed       Outcome = "failed"
	OutcomeInconclusive Outcome = "inconclusive"
	OutcomeError        Outcome = "error"
)

// String implements the Stringer interface for Outcome
func (o Outcome) String() string {
	return string(o)
}

// IsFailure reports whether the outcome counts against the run
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeError
}

// NoDataRow marks results that do not originate from a data row
const NoDataRow = -1

// ExecutionResult is produced per test-method invocation. Once handed to a recorder it must not be mutated.
type ExecutionResult struct {
	Test            TestDefinition
	DisplayName     string
	Outcome         Outcome
	ErrorMessage    string
	ErrorStackTrace string
	Duration        time.Duration
	StartTime       time.Time
	EndTime         time.Time
	StandardOut     string
	StandardError   string
	DebugTrace      string
	DataRowIndex    int
	ResultFiles     []string
}

// NewResult creates a result for a test that is not data driven
func NewResult(test TestDefinition, outcome Outcome) *ExecutionResult {
	return &ExecutionResult{
		Test:         test,
		Outcome:      outcome,
		DataRowIndex: NoDataRow,
	}
}

// NewErrorResult creates a result carrying err as failure detail
func NewErrorResult(test TestDefinition, outcome Outcome, err error) *ExecutionResult {
	r := NewResult(test, outcome)
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}

// IsDataRow reports whether the result comes from a data row invocation
func (r *ExecutionResult) IsDataRow() bool {
	return r.DataRowIndex >= 0
}

// Name returns the display name of the result, falling back to the test name
func (r *ExecutionResult) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Test.GetName()
}

// DataRowDisplayName formats the display name of a data row result
func DataRowDisplayName(name string, index int) string {
	return fmt.Sprintf("%s (Data Row %d)", name, index)
}

// CleanupResult carries the output and warnings of container-level cleanup
type CleanupResult struct {
	StandardOut   string
	StandardError string
	DebugTrace    string
	Warnings      []string
}
