package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testengine/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "testengine"
)

// Cache entry kinds
const (
	CacheKindClass    = "class"
	CacheKindAssembly = "assembly"
	CacheKindMethod   = "method"
	CacheKindRecord   = "record"
)

var (
	Debug                bool = true
	validOutcomes             = []types.Outcome{types.OutcomePassed, types.OutcomeFailed, types.OutcomeInconclusive, types.OutcomeError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results_total",
		Help:      "Count of test results by outcome",
	}, []string{
		"run_id",
		"container",
		"outcome",
	})

	testDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of the last execution of a test",
	}, []string{
		"container",
		"test",
	})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "metadata_cache_lookups_total",
		Help:      "Metadata cache lookups by kind and result (hit or miss)",
	}, []string{
		"kind",
		"result",
	})

	cacheLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "metadata_cache_loads_total",
		Help:      "Metadata cache loads by kind and result (success or failure)",
	}, []string{
		"kind",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of tests executed by a run",
	}, []string{
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed tests in a run",
	}, []string{
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of test runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordTestResult counts a single test result
func RecordTestResult(runID string, result *types.ExecutionResult) {
	if result == nil {
		return
	}
	if !isValidOutcome(result.Outcome) {
		log.Error("RecordTestResult - invalid outcome", "outcome", result.Outcome)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_results_total",
			"run_id", runID,
			"container", result.Test.Container,
			"test", result.Name(),
			"outcome", result.Outcome)
	}
	testResultsTotal.WithLabelValues(runID, result.Test.Container, string(result.Outcome)).Inc()
	testDuration.WithLabelValues(result.Test.Container, result.Test.FullyQualifiedName()).Set(result.Duration.Seconds())
}

// RecordCacheLookup counts a metadata cache lookup
func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// RecordCacheLoad counts a metadata load through the introspector
func RecordCacheLoad(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	cacheLoadsTotal.WithLabelValues(kind, result).Inc()
}

// RecordRun records the aggregate result of a run
func RecordRun(
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, result).Set(1)
	runTestTotal.WithLabelValues(runID).Add(float64(total))
	runTestPassed.WithLabelValues(runID).Add(float64(passed))
	runTestFailed.WithLabelValues(runID).Add(float64(failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidOutcome(outcome types.Outcome) bool {
	return slices.Contains(validOutcomes, outcome)
}
