package report

import (
	"fmt"

	"github.com/boyarskiy/testanalyzer/internal/aggregate"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

// coverageTarget is the coverage below which a suite report recommends
// adding tests.
const coverageTarget = 80.0

// Recommendations derives the actions a report suggests, most urgent first.
// Coverage may be nil.
func Recommendations(a *model.SuiteAnalysis, coverage *model.CoverageSummary) []string {
	var recs []string
	if a == nil {
		return recs
	}

	if a.TotalTests == 0 {
		recs = append(recs, "No tests were reported. Check the test command and the target files.")
	}
	if a.ConsistentFailures > 0 {
		recs = append(recs, fmt.Sprintf("Fix the %s before merging; they fail in every run.",
			plural(a.ConsistentFailures, "consistently failing test")))
	}
	if a.FlakyTests > 0 {
		recs = append(recs, fmt.Sprintf("Stabilize the %s: isolate shared state, avoid fixed sleeps and await async work explicitly.",
			plural(a.FlakyTests, "flaky test")))
	}
	if a.CategoryCounts[model.CategoryTimeout] > 0 {
		recs = append(recs, "Timeouts are among the failures; mock slow dependencies or raise the timeouts of long-running tests.")
	}
	if len(a.SlowTests) > 0 {
		recs = append(recs, fmt.Sprintf("Profile the %s that exceed the slow-test threshold.",
			plural(len(a.SlowTests), "slow test")))
	}
	if a.RunsCompleted < a.RunsRequested {
		recs = append(recs, fmt.Sprintf("Only %d of %d runs completed; check the execution errors for crashes or timeouts.",
			a.RunsCompleted, a.RunsRequested))
	}
	if a.IncompleteRecords > 0 {
		verb := "are"
		if a.IncompleteRecords == 1 {
			verb = "is"
		}
		recs = append(recs, fmt.Sprintf("%s %s missing from some runs; a run may have crashed part way.",
			plural(a.IncompleteRecords, "test"), verb))
	}
	if coverage != nil && coverage.OverallCoverage < coverageTarget {
		recs = append(recs, fmt.Sprintf("Coverage is %.1f%% (%s); add tests for the least covered files.",
			coverage.OverallCoverage, healthLabel(aggregate.HealthOf(coverage.OverallCoverage))))
	}

	if len(recs) == 0 {
		recs = append(recs, "All tests passed consistently. Keep running the analysis regularly to catch new flakiness early.")
	}
	return recs
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
