// Package correlate folds per-run outcomes into cross-run test records.
package correlate

import (
	"sort"

	"github.com/boyarskiy/testanalyzer/internal/classify"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

// testAccumulator carries the running totals of one record while folding.
type testAccumulator struct {
	record        *model.TestRecord
	totalDuration int64
	// runDuration is the duration counted for the run at lastRun.
	runDuration int64
	lastRun     int
}

// Correlate folds runs left to right into one record per test identity.
//
// A test missing from a run contributes nothing for that run, so a record's
// ObservedOutcomes can be shorter than len(runs). Identities are compared as
// strings only; a test whose groups were restructured between runs becomes a
// different record. Two tests with the same identity inside one run are
// merged into a single observation that passes only if both passed.
func Correlate(runs []model.RunResult) map[model.TestIdentity]*model.TestRecord {
	accs := make(map[model.TestIdentity]*testAccumulator)

	for pos, run := range runs {
		for _, out := range run.Outcomes {
			acc, exists := accs[out.Identity]
			if !exists {
				acc = &testAccumulator{
					record:  &model.TestRecord{Identity: out.Identity},
					lastRun: -1,
				}
				accs[out.Identity] = acc
			}
			acc.observe(pos, run.RunIndex, out)
		}
	}

	records := make(map[model.TestIdentity]*model.TestRecord, len(accs))
	for id, acc := range accs {
		acc.finalize()
		records[id] = acc.record
	}
	return records
}

func (a *testAccumulator) observe(pos, runIndex int, out model.PerRunOutcome) {
	rec := a.record

	if a.lastRun == pos {
		// Same identity seen twice in one run.
		last := len(rec.ObservedOutcomes) - 1
		rec.ObservedOutcomes[last] = rec.ObservedOutcomes[last] && out.Passed
		// One sample per run: the slowest duplicate.
		if out.DurationMs > a.runDuration {
			a.totalDuration += out.DurationMs - a.runDuration
			a.runDuration = out.DurationMs
		}
	} else {
		rec.ObservedOutcomes = append(rec.ObservedOutcomes, out.Passed)
		rec.RunIndexes = append(rec.RunIndexes, runIndex)
		a.lastRun = pos
		a.totalDuration += out.DurationMs
		a.runDuration = out.DurationMs
	}

	if out.DurationMs > rec.MaxDurationMs {
		rec.MaxDurationMs = out.DurationMs
	}

	if out.Passed {
		return
	}

	if n := len(rec.FailureEvidence); n == 0 || rec.FailureEvidence[n-1].RunIndex != runIndex {
		rec.FailureEvidence = append(rec.FailureEvidence, model.FailureEvidence{
			RunIndex: runIndex,
			Excerpt:  classify.Excerpt(out.Error),
		})
	}

	// Prefer the first failure that actually carries error text.
	if rec.RepresentativeFailure == nil || (rec.RepresentativeFailure.Error == "" && out.Error != "") {
		rec.RepresentativeFailure = &model.RepresentativeFailure{
			RunIndex:   runIndex,
			Error:      out.Error,
			StackTrace: out.StackTrace,
		}
	}
}

func (a *testAccumulator) finalize() {
	rec := a.record
	passes := rec.PassCount()
	fails := rec.FailCount()

	rec.IsFlaky = passes > 0 && fails > 0
	rec.IsConsistentFailure = len(rec.ObservedOutcomes) > 0 && passes == 0

	samples := len(rec.ObservedOutcomes)
	if samples > 0 {
		rec.AvgDurationMs = a.totalDuration / int64(samples)
	}
}

// Sorted returns the records ordered by identity.
func Sorted(records map[model.TestIdentity]*model.TestRecord) []*model.TestRecord {
	out := make([]*model.TestRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.String() < out[j].Identity.String()
	})
	return out
}
