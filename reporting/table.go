// Package reporting renders run results and discovered tests as console tables.
package reporting

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testengine/runner"
	"github.com/ethereum-optimism/infra/op-testengine/types"
)

// WriteResultsTable renders a run result as a container/class/test table
func WriteResultsTable(w io.Writer, result *runner.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Inconclusive", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Inconclusive", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, name := range slices.Sorted(maps.Keys(result.Containers)) {
		container := result.Containers[name]
		t.AppendRow(table.Row{
			"Container",
			name,
			formatDuration(container.Duration),
			"-",
			container.Stats.Passed,
			container.Stats.Failed + container.Stats.Errored,
			container.Stats.Inconclusive,
			outcomeString(container.Status),
			"",
		})

		for _, className := range slices.Sorted(maps.Keys(container.Classes)) {
			class := container.Classes[className]
			t.AppendRow(table.Row{
				"Class",
				fmt.Sprintf("├── %s", className),
				formatDuration(class.Duration),
				"-",
				class.Stats.Passed,
				class.Stats.Failed + class.Stats.Errored,
				class.Stats.Inconclusive,
				outcomeString(class.Status),
				"",
			})

			names := slices.Sorted(maps.Keys(class.Tests))
			for i, testName := range names {
				test := class.Tests[testName]
				prefix := "│   ├──"
				if i == len(names)-1 {
					prefix = "│   └──"
				}
				t.AppendRow(table.Row{
					"Test",
					fmt.Sprintf("%s %s", prefix, testName),
					formatDuration(test.Duration),
					"1",
					boolToInt(test.Outcome == types.OutcomePassed),
					boolToInt(test.Outcome.IsFailure()),
					boolToInt(test.Outcome == types.OutcomeInconclusive),
					outcomeString(test.Outcome),
					keyErrorMessage(test.ErrorMessage),
				})
			}
		}
		t.AppendSeparator()
	}

	switch result.Status {
	case types.OutcomePassed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.OutcomeInconclusive:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed + result.Stats.Errored,
		result.Stats.Inconclusive,
		outcomeString(result.Status),
		"",
	})
	t.Render()
}

// WriteTestList renders discovered tests without running them
func WriteTestList(w io.Writer, tests []types.TestDefinition) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Discovered Tests (%d)", len(tests)))
	t.AppendHeader(table.Row{"Container", "Class", "Test", "Categories", "Owner", "Priority", "Data"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Container", AutoMerge: true},
		{Name: "Class", AutoMerge: true},
		{Name: "Priority", Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)

	for _, test := range tests {
		data := ""
		if test.IsDataDriven() {
			data = "rows"
		}
		t.AppendRow(table.Row{
			test.Container,
			test.Class,
			test.GetName(),
			strings.Join(test.Categories, ","),
			test.Owner,
			test.Priority,
			data,
		})
	}
	t.Render()
}

// WriteMessages renders the warning and error messages of a run, if any
func WriteMessages(w io.Writer, messages []runner.Message) {
	for _, m := range messages {
		if m.Level == runner.MessageInformational {
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(string(m.Level)), m.Text)
	}
}

// keyErrorMessage keeps the first line of an error message, limited for table display
func keyErrorMessage(msg string) string {
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	if len(msg) > 120 {
		return msg[:117] + "..."
	}
	return msg
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func outcomeString(o types.Outcome) string {
	switch o {
	case types.OutcomePassed:
		return "✓ pass"
	case types.OutcomeInconclusive:
		return "? inconclusive"
	case types.OutcomeError:
		return "✗ error"
	default:
		return "✗ fail"
	}
}

// formatDuration formats a duration to seconds with one decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
