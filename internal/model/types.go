// Package model defines shared data types for testanalyzer.
package model

import (
	"strings"
	"time"
)

// TestIdentity is the cross-run key of a test. Runner-assigned numeric IDs
// only live for one process, so correlation uses the suite path, the chain
// of group names and the test name instead.
type TestIdentity struct {
	SuitePath  string `json:"suitePath"`
	GroupChain string `json:"groupChain,omitempty"`
	TestName   string `json:"testName"`
}

// String returns the stable string key of the identity.
func (id TestIdentity) String() string {
	var sb strings.Builder
	sb.WriteString(id.SuitePath)
	sb.WriteString("::")
	if id.GroupChain != "" {
		sb.WriteString(id.GroupChain)
		sb.WriteString(" ")
	}
	sb.WriteString(id.TestName)
	return sb.String()
}

// PerRunOutcome is the outcome of one test in exactly one run.
type PerRunOutcome struct {
	Identity   TestIdentity `json:"identity"`
	Passed     bool         `json:"passed"`
	DurationMs int64        `json:"durationMs"`
	Error      string       `json:"error,omitempty"`
	StackTrace string       `json:"stackTrace,omitempty"`
}

// RunResult holds the decoded outcomes of a single run of the suite.
type RunResult struct {
	RunIndex int             `json:"runIndex"`
	Outcomes []PerRunOutcome `json:"outcomes"`
	// ExitCode is the runner's exit status: 0 all passed, 1 some failed,
	// anything else is an execution or configuration problem.
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	// Success mirrors the runner's own "done" event when one was seen.
	Success *bool `json:"success,omitempty"`
	// SkippedLines counts lines that were not part of the event protocol.
	SkippedLines int `json:"skippedLines"`
}

// Category is a failure taxonomy entry.
type Category string

const (
	CategoryAssertion     Category = "AssertionFailure"
	CategoryNullReference Category = "NullReferenceError"
	CategoryType          Category = "TypeError"
	CategoryRange         Category = "RangeError"
	CategoryTimeout       Category = "TimeoutFailure"
	CategoryNetwork       Category = "NetworkError"
	CategoryFileSystem    Category = "FileSystemError"
	CategoryUnknown       Category = "UnknownError"
)

// Categories lists the closed taxonomy in display order.
var Categories = []Category{
	CategoryAssertion,
	CategoryNullReference,
	CategoryType,
	CategoryRange,
	CategoryTimeout,
	CategoryNetwork,
	CategoryFileSystem,
	CategoryUnknown,
}

// FailureEvidence captures details of a specific failure occurrence.
type FailureEvidence struct {
	RunIndex int    `json:"runIndex"`
	Excerpt  string `json:"excerpt"`
}

// RepresentativeFailure is the error and stack taken from one failing run.
type RepresentativeFailure struct {
	RunIndex   int    `json:"runIndex"`
	Error      string `json:"error"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// TestRecord is the cross-run record of one test.
type TestRecord struct {
	Identity TestIdentity `json:"identity"`
	// ObservedOutcomes has one entry per run that reported this test, in run
	// order. It may be shorter than the number of runs.
	ObservedOutcomes      []bool                 `json:"observedOutcomes"`
	RunIndexes            []int                  `json:"runIndexes"`
	IsFlaky               bool                   `json:"isFlaky"`
	IsConsistentFailure   bool                   `json:"isConsistentFailure"`
	RepresentativeFailure *RepresentativeFailure `json:"representativeFailure,omitempty"`
	Category              Category               `json:"category,omitempty"`
	Suggestion            string                 `json:"suggestion,omitempty"`
	AvgDurationMs         int64                  `json:"avgDurationMs"`
	MaxDurationMs         int64                  `json:"maxDurationMs"`
	FailureEvidence       []FailureEvidence      `json:"failureEvidence,omitempty"`
}

// PassCount returns the number of observed passing runs.
func (r *TestRecord) PassCount() int {
	n := 0
	for _, ok := range r.ObservedOutcomes {
		if ok {
			n++
		}
	}
	return n
}

// FailCount returns the number of observed failing runs.
func (r *TestRecord) FailCount() int {
	return len(r.ObservedOutcomes) - r.PassCount()
}

// PassedConsistently reports whether every observed run passed.
func (r *TestRecord) PassedConsistently() bool {
	return len(r.ObservedOutcomes) > 0 && r.FailCount() == 0
}

// FailureRate is the fraction of observed runs that failed.
func (r *TestRecord) FailureRate() float64 {
	if len(r.ObservedOutcomes) == 0 {
		return 0
	}
	return float64(r.FailCount()) / float64(len(r.ObservedOutcomes))
}

// SlowTest is a test whose average duration crossed the slow threshold.
type SlowTest struct {
	Identity      TestIdentity `json:"identity"`
	AvgDurationMs int64        `json:"avgDurationMs"`
	MaxDurationMs int64        `json:"maxDurationMs"`
}

// SuiteAnalysis is the suite-wide reduction of all test records.
type SuiteAnalysis struct {
	TotalTests         int     `json:"totalTests"`
	PassedConsistently int     `json:"passedConsistently"`
	ConsistentFailures int     `json:"consistentFailures"`
	FlakyTests         int     `json:"flakyTests"`
	PassRate           float64 `json:"passRate"`
	StabilityScore     float64 `json:"stabilityScore"`

	RunsRequested     int              `json:"runsRequested"`
	RunsCompleted     int              `json:"runsCompleted"`
	IncompleteRecords int              `json:"incompleteRecords"`
	CategoryCounts    map[Category]int `json:"categoryCounts,omitempty"`
	SlowTests         []SlowTest       `json:"slowTests,omitempty"`

	FailingRecords []TestRecord `json:"failingRecords"`
}

// Health is the banding used for coverage, pass-rate and stability displays.
type Health string

const (
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthFair      Health = "fair"
	HealthPoor      Health = "poor"
)

// ReportType is the kind of report artifact.
type ReportType string

const (
	ReportCoverage ReportType = "coverage"
	ReportTests    ReportType = "tests"
	ReportFailures ReportType = "failures"
	ReportSuite    ReportType = "suite"
)

// ReportTypes lists every known report type.
var ReportTypes = []ReportType{ReportCoverage, ReportTests, ReportFailures, ReportSuite}

// Valid reports whether t is one of the known report types.
func (t ReportType) Valid() bool {
	for _, known := range ReportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FileCoverage is the per-file entry of a coverage summary.
type FileCoverage struct {
	TotalLines   int     `json:"totalLines"`
	CoveredLines int     `json:"coveredLines"`
	Coverage     float64 `json:"coverage"`
}

// CoverageSummary is supplied by the coverage subsystem and only embedded in
// unified suite reports.
type CoverageSummary struct {
	OverallCoverage float64                 `json:"overallCoverage"`
	TotalLines      int                     `json:"totalLines"`
	CoveredLines    int                     `json:"coveredLines"`
	PerFile         map[string]FileCoverage `json:"perFile,omitempty"`
}
