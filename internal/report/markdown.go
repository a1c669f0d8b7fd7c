package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boyarskiy/testanalyzer/internal/aggregate"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

// maxCoverageFiles bounds the per-file coverage table.
const maxCoverageFiles = 10

var titles = map[model.ReportType]string{
	model.ReportTests:    "Test Reliability Report",
	model.ReportFailures: "Test Failure Report",
	model.ReportSuite:    "Test Suite Report",
	model.ReportCoverage: "Coverage Report",
}

// RenderMarkdown renders the document as markdown. The document itself is
// embedded at the end as a fenced JSON block.
func RenderMarkdown(doc *Document) (string, error) {
	if doc == nil || doc.Analysis == nil {
		return "", fmt.Errorf("report document with an analysis is required")
	}
	a := doc.Analysis

	var sb strings.Builder

	title, ok := titles[doc.Type]
	if !ok {
		title = "Test Report"
	}
	fmt.Fprintf(&sb, "# %s: %s\n\n", title, escapeMarkdown(doc.Module))
	fmt.Fprintf(&sb, "- **Generated:** %s\n", doc.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- **Tool:** %s\n", doc.Tool)
	if doc.ReportID != "" {
		fmt.Fprintf(&sb, "- **Report ID:** %s\n", doc.ReportID)
	}
	if doc.Command != "" {
		fmt.Fprintf(&sb, "- **Command:** `%s`\n", doc.Command)
	}
	sb.WriteString("\n")

	writeSummary(&sb, a)
	if doc.Coverage != nil {
		writeCoverage(&sb, doc.Coverage)
	}
	writeConsistentFailures(&sb, a, doc.Type == model.ReportFailures)
	writeFlakyTests(&sb, a)
	writeCategories(&sb, a)
	writeSlowTests(&sb, a)

	if len(doc.ExecutionErrors) > 0 {
		sb.WriteString("## Execution Errors\n\n")
		for _, e := range doc.ExecutionErrors {
			fmt.Fprintf(&sb, "- %s\n", escapeMarkdown(e))
		}
		sb.WriteString("\n")
	}

	if len(doc.Recommendations) > 0 {
		sb.WriteString("## Recommendations\n\n")
		for i, r := range doc.Recommendations {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
		}
		sb.WriteString("\n")
	}

	data, err := MarshalJSON(doc)
	if err != nil {
		return "", err
	}
	sb.WriteString("## Data\n\n```json\n")
	sb.Write(data)
	sb.WriteString("\n```\n")

	return sb.String(), nil
}

func writeSummary(sb *strings.Builder, a *model.SuiteAnalysis) {
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value | Health |\n")
	sb.WriteString("|--------|-------|--------|\n")
	fmt.Fprintf(sb, "| Total Tests | %d | |\n", a.TotalTests)
	fmt.Fprintf(sb, "| Passed Consistently | %d | |\n", a.PassedConsistently)
	fmt.Fprintf(sb, "| Consistent Failures | %d | |\n", a.ConsistentFailures)
	fmt.Fprintf(sb, "| Flaky Tests | %d | |\n", a.FlakyTests)
	fmt.Fprintf(sb, "| Pass Rate | %.1f%% | %s |\n", a.PassRate, healthLabel(aggregate.HealthOf(a.PassRate)))
	fmt.Fprintf(sb, "| Stability Score | %.1f%% | %s |\n", a.StabilityScore, healthLabel(aggregate.HealthOf(a.StabilityScore)))
	fmt.Fprintf(sb, "| Runs Completed | %d/%d | |\n", a.RunsCompleted, a.RunsRequested)
	if a.IncompleteRecords > 0 {
		fmt.Fprintf(sb, "| Incomplete Records | %d | |\n", a.IncompleteRecords)
	}
	sb.WriteString("\n")
}

func writeCoverage(sb *strings.Builder, c *model.CoverageSummary) {
	sb.WriteString("## Coverage\n\n")
	sb.WriteString("| Metric | Value | Health |\n")
	sb.WriteString("|--------|-------|--------|\n")
	fmt.Fprintf(sb, "| Overall Coverage | %.1f%% | %s |\n", c.OverallCoverage, healthLabel(aggregate.HealthOf(c.OverallCoverage)))
	fmt.Fprintf(sb, "| Lines Covered | %d/%d | |\n", c.CoveredLines, c.TotalLines)
	sb.WriteString("\n")

	if len(c.PerFile) == 0 {
		return
	}

	files := make([]string, 0, len(c.PerFile))
	for f := range c.PerFile {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		ci, cj := c.PerFile[files[i]].Coverage, c.PerFile[files[j]].Coverage
		if ci != cj {
			return ci < cj
		}
		return files[i] < files[j]
	})
	if len(files) > maxCoverageFiles {
		files = files[:maxCoverageFiles]
	}

	sb.WriteString("Least covered files:\n\n")
	sb.WriteString("| File | Coverage | Lines |\n")
	sb.WriteString("|------|----------|-------|\n")
	for _, f := range files {
		fc := c.PerFile[f]
		fmt.Fprintf(sb, "| %s | %.1f%% | %d/%d |\n", escapeMarkdown(f), fc.Coverage, fc.CoveredLines, fc.TotalLines)
	}
	sb.WriteString("\n")
}

func writeConsistentFailures(sb *strings.Builder, a *model.SuiteAnalysis, withStack bool) {
	sb.WriteString("## Consistent Failures\n\n")

	failures := aggregate.ConsistentFailures(a)
	if len(failures) == 0 {
		sb.WriteString("No consistently failing tests.\n\n")
		return
	}

	for i, rec := range failures {
		fmt.Fprintf(sb, "### %d. %s\n\n", i+1, escapeMarkdown(rec.Identity.String()))
		fmt.Fprintf(sb, "- **Category:** %s\n", rec.Category)
		fmt.Fprintf(sb, "- **Failed Runs:** %d/%d\n", rec.FailCount(), len(rec.ObservedOutcomes))
		if rec.Suggestion != "" {
			fmt.Fprintf(sb, "- **Suggestion:** %s\n", rec.Suggestion)
		}
		sb.WriteString("\n")

		if rf := rec.RepresentativeFailure; rf != nil && rf.Error != "" {
			fmt.Fprintf(sb, "Run %d:\n\n```\n%s\n```\n\n", rf.RunIndex, strings.TrimRight(rf.Error, "\n"))
			if withStack && rf.StackTrace != "" {
				fmt.Fprintf(sb, "<details><summary>Stack trace</summary>\n\n```\n%s\n```\n\n</details>\n\n", strings.TrimRight(rf.StackTrace, "\n"))
			}
		}
	}
}

func writeFlakyTests(sb *strings.Builder, a *model.SuiteAnalysis) {
	sb.WriteString("## Flaky Tests\n\n")

	flaky := aggregate.FlakyTests(a)
	if len(flaky) == 0 {
		sb.WriteString("No flaky tests detected.\n\n")
		return
	}

	sb.WriteString("| Test | Passed | Failure Rate | Failed Runs | Category |\n")
	sb.WriteString("|------|--------|--------------|-------------|----------|\n")
	for _, rec := range flaky {
		fmt.Fprintf(sb, "| %s | %d/%d | %.1f%% | %s | %s |\n",
			escapeMarkdown(rec.Identity.String()),
			rec.PassCount(),
			len(rec.ObservedOutcomes),
			rec.FailureRate()*100,
			formatRunIndices(failedRuns(rec)),
			rec.Category,
		)
	}
	sb.WriteString("\n")

	for _, rec := range flaky {
		if len(rec.FailureEvidence) == 0 {
			continue
		}
		fmt.Fprintf(sb, "**%s**\n\n", escapeMarkdown(rec.Identity.String()))
		if rec.Suggestion != "" {
			fmt.Fprintf(sb, "%s\n\n", rec.Suggestion)
		}
		for _, ev := range rec.FailureEvidence {
			if ev.Excerpt == "" {
				fmt.Fprintf(sb, "- Run %d\n", ev.RunIndex)
				continue
			}
			fmt.Fprintf(sb, "- Run %d: `%s`\n", ev.RunIndex, strings.ReplaceAll(ev.Excerpt, "`", "'"))
		}
		sb.WriteString("\n")
	}
}

func writeCategories(sb *strings.Builder, a *model.SuiteAnalysis) {
	counts := sortedCategories(a.CategoryCounts)
	if len(counts) == 0 {
		return
	}

	sb.WriteString("## Failure Categories\n\n")
	sb.WriteString("| Category | Tests |\n")
	sb.WriteString("|----------|-------|\n")
	for _, c := range counts {
		fmt.Fprintf(sb, "| %s | %d |\n", c.Category, c.Count)
	}
	sb.WriteString("\n")
}

func writeSlowTests(sb *strings.Builder, a *model.SuiteAnalysis) {
	if len(a.SlowTests) == 0 {
		return
	}

	sb.WriteString("## Slow Tests\n\n")
	sb.WriteString("| Test | Average | Max |\n")
	sb.WriteString("|------|---------|-----|\n")
	for _, s := range a.SlowTests {
		fmt.Fprintf(sb, "| %s | %s | %s |\n",
			escapeMarkdown(s.Identity.String()),
			formatDuration(time.Duration(s.AvgDurationMs)*time.Millisecond),
			formatDuration(time.Duration(s.MaxDurationMs)*time.Millisecond),
		)
	}
	sb.WriteString("\n")
}

// escapeMarkdown escapes characters that break table rows.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
