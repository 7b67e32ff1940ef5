package runner

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// ResultStats counts the outcomes under one node of a RunResult
type ResultStats struct {
	Total        int
	Passed       int
	Failed       int
	Inconclusive int
	Errored      int
	StartTime    time.Time
	EndTime      time.Time
}

// ClassResult holds the results of one class, keyed by result display name
type ClassResult struct {
	ID       string
	Tests    map[string]*types.ExecutionResult
	Stats    ResultStats
	Status   types.Outcome
	Duration time.Duration
}

// ContainerResult holds the class results of one container
type ContainerResult struct {
	ID            string
	Classes       map[string]*ClassResult
	Stats         ResultStats
	Status        types.Outcome
	Duration      time.Duration
	WallClockTime time.Duration
}

// Message is a run message received by the collector
type Message struct {
	Level MessageLevel
	Text  string
	Time  time.Time
}

// RunResult is the aggregated result of a run
type RunResult struct {
	RunID         string
	Containers    map[string]*ContainerResult
	Messages      []Message
	Stats         ResultStats
	Status        types.Outcome
	Duration      time.Duration
	WallClockTime time.Duration
}

var _ Recorder = (*Collector)(nil)

// Collector is a Recorder aggregating results into a RunResult. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	result *RunResult
}

// NewCollector creates a collector for the run identified by runID
func NewCollector(runID string) *Collector {
	return &Collector{
		result: &RunResult{
			RunID:      runID,
			Containers: make(map[string]*ContainerResult),
			Status:     types.OutcomeFailed,
			Stats: ResultStats{
				StartTime: time.Now(),
			},
		},
	}
}

func (c *Collector) RecordStart(types.TestDefinition) error {
	return nil
}

func (c *Collector) RecordEnd(types.TestDefinition, types.Outcome) error {
	return nil
}

// RecordResult adds a result to its container and class
func (c *Collector) RecordResult(res *types.ExecutionResult) error {
	if res == nil {
		return fmt.Errorf("result cannot be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	name := res.Test.Container
	container, ok := c.result.Containers[name]
	if !ok {
		container = &ContainerResult{
			ID:      name,
			Classes: make(map[string]*ClassResult),
			Status:  types.OutcomeFailed, // Recalculated in Finalize
			Stats: ResultStats{
				StartTime: res.StartTime,
			},
		}
		c.result.Containers[name] = container
	}

	class, ok := container.Classes[res.Test.Class]
	if !ok {
		class = &ClassResult{
			ID:     res.Test.Class,
			Tests:  make(map[string]*types.ExecutionResult),
			Status: types.OutcomeFailed,
		}
		container.Classes[res.Test.Class] = class
	}
	class.Tests[res.Name()] = res

	for _, node := range []struct {
		stats    *ResultStats
		duration *time.Duration
	}{
		{&class.Stats, &class.Duration},
		{&container.Stats, &container.Duration},
		{&c.result.Stats, &c.result.Duration},
	} {
		*node.duration += res.Duration
		node.stats.Total++
		updateStatusCounts(node.stats, res.Outcome)
	}
	if container.Stats.StartTime.IsZero() || res.StartTime.Before(container.Stats.StartTime) {
		container.Stats.StartTime = res.StartTime
	}
	if res.EndTime.After(container.Stats.EndTime) {
		container.Stats.EndTime = res.EndTime
	}
	return nil
}

// SendMessage records a run message
func (c *Collector) SendMessage(level MessageLevel, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Messages = append(c.result.Messages, Message{Level: level, Text: message, Time: time.Now()})
	return nil
}

// Finalize calculates statuses and wall clock times and returns the run result
func (c *Collector) Finalize() *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := c.result
	result.Stats.EndTime = time.Now()
	result.WallClockTime = result.Stats.EndTime.Sub(result.Stats.StartTime)

	anyFailed, allInconclusive := false, true
	for _, container := range result.Containers {
		container.WallClockTime = container.Stats.EndTime.Sub(container.Stats.StartTime)
		cFailed, cInconclusive := false, true
		for _, class := range container.Classes {
			class.Status = statusOf(class.Stats)
			cFailed = cFailed || class.Status == types.OutcomeFailed
			cInconclusive = cInconclusive && class.Status == types.OutcomeInconclusive
		}
		container.Status = determineStatusFromFlags(cInconclusive, cFailed)
		anyFailed = anyFailed || container.Status == types.OutcomeFailed
		allInconclusive = allInconclusive && container.Status == types.OutcomeInconclusive
	}
	for _, m := range result.Messages {
		if m.Level == MessageError {
			anyFailed = true
		}
	}
	result.Status = determineStatusFromFlags(allInconclusive, anyFailed)
	return result
}

func updateStatusCounts(stats *ResultStats, outcome types.Outcome) {
	switch outcome {
	case types.OutcomePassed:
		stats.Passed++
	case types.OutcomeFailed:
		stats.Failed++
	case types.OutcomeInconclusive:
		stats.Inconclusive++
	case types.OutcomeError:
		stats.Errored++
	}
}

func statusOf(stats ResultStats) types.Outcome {
	return determineStatusFromFlags(stats.Inconclusive == stats.Total, stats.Failed+stats.Errored > 0)
}

// determineStatusFromFlags prioritizes failures over inconclusive results
func determineStatusFromFlags(allInconclusive, anyFailed bool) types.Outcome {
	if anyFailed {
		return types.OutcomeFailed
	}
	if allInconclusive {
		return types.OutcomeInconclusive
	}
	return types.OutcomePassed
}

// String renders the run as a tree
func (r *RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test Run Results (%s):\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Total: %d, Passed: %d, Failed: %d, Inconclusive: %d, Errored: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Inconclusive, r.Stats.Errored)

	for _, name := range sortedKeys(r.Containers) {
		container := r.Containers[name]
		fmt.Fprintf(&b, "\nContainer: %s (%s)\n", name, container.Duration.Round(time.Millisecond))
		fmt.Fprintf(&b, "├── Status: %s\n", container.Status)
		for _, className := range sortedKeys(container.Classes) {
			class := container.Classes[className]
			fmt.Fprintf(&b, "├── Class: %s (%s)\n", className, class.Status)
			for _, testName := range sortedKeys(class.Tests) {
				fmt.Fprintf(&b, "│   ├── %s: %s\n", testName, class.Tests[testName].Outcome)
			}
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
