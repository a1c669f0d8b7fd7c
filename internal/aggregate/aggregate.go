// Package aggregate reduces test records into suite-wide reliability
// statistics.
package aggregate

import (
	"sort"
	"time"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// Options tune the parts of the analysis that are not pure counting.
type Options struct {
	// RunsRequested and RunsCompleted are copied into the analysis so that
	// incomplete records can be recognised.
	RunsRequested int
	RunsCompleted int
	// SlowThreshold marks tests whose average duration reaches it as slow.
	// Zero disables slow test detection.
	SlowThreshold time.Duration
}

// Aggregate reduces records into a SuiteAnalysis.
//
// A consistently failing test counts as stable: the stability score is the
// share of tests that are not flaky.
func Aggregate(records map[model.TestIdentity]*model.TestRecord, opts Options) *model.SuiteAnalysis {
	a := &model.SuiteAnalysis{
		TotalTests:     len(records),
		RunsRequested:  opts.RunsRequested,
		RunsCompleted:  opts.RunsCompleted,
		CategoryCounts: make(map[model.Category]int),
		FailingRecords: []model.TestRecord{},
	}

	slowMs := opts.SlowThreshold.Milliseconds()

	for _, rec := range records {
		switch {
		case rec.PassedConsistently():
			a.PassedConsistently++
		case rec.IsConsistentFailure:
			a.ConsistentFailures++
		}
		if rec.IsFlaky {
			a.FlakyTests++
		}

		if opts.RunsCompleted > 0 && len(rec.ObservedOutcomes) < opts.RunsCompleted {
			a.IncompleteRecords++
		}

		if rec.FailCount() > 0 {
			a.FailingRecords = append(a.FailingRecords, *rec)
			if rec.Category != "" {
				a.CategoryCounts[rec.Category]++
			}
		}

		if slowMs > 0 && rec.AvgDurationMs >= slowMs {
			a.SlowTests = append(a.SlowTests, model.SlowTest{
				Identity:      rec.Identity,
				AvgDurationMs: rec.AvgDurationMs,
				MaxDurationMs: rec.MaxDurationMs,
			})
		}
	}

	a.PassRate = percentage(a.PassedConsistently, a.TotalTests)
	a.StabilityScore = percentage(a.TotalTests-a.FlakyTests, a.TotalTests)

	sortFailing(a.FailingRecords)
	sort.Slice(a.SlowTests, func(i, j int) bool {
		if a.SlowTests[i].AvgDurationMs != a.SlowTests[j].AvgDurationMs {
			return a.SlowTests[i].AvgDurationMs > a.SlowTests[j].AvgDurationMs
		}
		return a.SlowTests[i].Identity.String() < a.SlowTests[j].Identity.String()
	})

	return a
}

// percentage returns part/total*100, and 0 when total is 0.
func percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// sortFailing orders consistent failures first, then flaky tests by failure
// rate descending, then by identity.
func sortFailing(recs []model.TestRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].IsConsistentFailure != recs[j].IsConsistentFailure {
			return recs[i].IsConsistentFailure
		}
		ri, rj := recs[i].FailureRate(), recs[j].FailureRate()
		if ri != rj {
			return ri > rj
		}
		return recs[i].Identity.String() < recs[j].Identity.String()
	})
}

// ConsistentFailures returns the failing records that failed every run.
func ConsistentFailures(a *model.SuiteAnalysis) []model.TestRecord {
	return filter(a.FailingRecords, func(r model.TestRecord) bool { return r.IsConsistentFailure })
}

// FlakyTests returns the failing records whose outcome varied.
func FlakyTests(a *model.SuiteAnalysis) []model.TestRecord {
	return filter(a.FailingRecords, func(r model.TestRecord) bool { return r.IsFlaky })
}

func filter(recs []model.TestRecord, keep func(model.TestRecord) bool) []model.TestRecord {
	out := make([]model.TestRecord, 0)
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// HealthOf bands a percentage: >=90 excellent, >=75 good, >=60 fair, else poor.
func HealthOf(pct float64) model.Health {
	switch {
	case pct >= 90:
		return model.HealthExcellent
	case pct >= 75:
		return model.HealthGood
	case pct >= 60:
		return model.HealthFair
	default:
		return model.HealthPoor
	}
}
