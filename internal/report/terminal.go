package report

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/boyarskiy/testanalyzer/internal/aggregate"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

const (
	defaultTopN      = 5
	defaultWordWrap  = 100
	excerptMaxLength = 80
)

// TerminalConfig holds configuration for terminal output.
type TerminalConfig struct {
	Writer io.Writer
	// TopN bounds the failing tests listed (default: 5).
	TopN int
	// Color enables ANSI colors. See IsTerminal.
	Color bool
}

// DefaultTerminalConfig returns the default terminal configuration. Colors
// are enabled when w is a terminal.
func DefaultTerminalConfig(w io.Writer) *TerminalConfig {
	return &TerminalConfig{
		Writer: w,
		TopN:   defaultTopN,
		Color:  IsTerminal(w),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RenderTerminal writes the summary of doc to the configured writer.
func RenderTerminal(cfg *TerminalConfig, doc *Document, artifactPath string) error {
	if cfg == nil || cfg.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	if doc == nil || doc.Analysis == nil {
		return fmt.Errorf("report document with an analysis is required")
	}

	w := cfg.Writer
	a := doc.Analysis
	topN := cfg.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Test Analysis: %s", doc.Module))
	t.AppendHeader(table.Row{"Metric", "Value", "Health"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Value", Align: text.AlignRight},
	})
	t.AppendRow(table.Row{"Total Tests", a.TotalTests, ""})
	t.AppendRow(table.Row{"Passed Consistently", a.PassedConsistently, ""})
	t.AppendRow(table.Row{"Consistent Failures", a.ConsistentFailures, ""})
	t.AppendRow(table.Row{"Flaky Tests", a.FlakyTests, ""})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Pass Rate", fmt.Sprintf("%.1f%%", a.PassRate), cfg.health(a.PassRate)})
	t.AppendRow(table.Row{"Stability Score", fmt.Sprintf("%.1f%%", a.StabilityScore), cfg.health(a.StabilityScore)})
	if doc.Coverage != nil {
		t.AppendRow(table.Row{"Coverage", fmt.Sprintf("%.1f%%", doc.Coverage.OverallCoverage), cfg.health(doc.Coverage.OverallCoverage)})
	}
	t.AppendFooter(table.Row{"Runs", fmt.Sprintf("%d/%d", a.RunsCompleted, a.RunsRequested), status(a)})
	cfg.style(t, a)
	t.Render()
	fmt.Fprintln(w)

	if len(a.FailingRecords) > 0 {
		ft := table.NewWriter()
		ft.SetOutputMirror(w)
		ft.SetTitle("Failing Tests")
		ft.AppendHeader(table.Row{"Test", "Kind", "Passed", "Category", "Excerpt"})
		ft.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
			{Name: "Passed", Align: text.AlignRight},
		})
		shown := a.FailingRecords
		if len(shown) > topN {
			shown = shown[:topN]
		}
		for _, rec := range shown {
			kind := "flaky"
			if rec.IsConsistentFailure {
				kind = "consistent"
			}
			excerpt := ""
			if len(rec.FailureEvidence) > 0 {
				excerpt = truncateForTerminal(rec.FailureEvidence[0].Excerpt, excerptMaxLength)
			}
			ft.AppendRow(table.Row{
				rec.Identity.String(),
				cfg.colorize(kind, kindColor(rec)),
				fmt.Sprintf("%d/%d", rec.PassCount(), len(rec.ObservedOutcomes)),
				rec.Category,
				excerpt,
			})
		}
		if more := len(a.FailingRecords) - len(shown); more > 0 {
			ft.AppendFooter(table.Row{fmt.Sprintf("... and %d more", more), "", "", "", ""})
		}
		cfg.style(ft, a)
		ft.Render()
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "No flaky or failing tests detected.")
		fmt.Fprintln(w)
	}

	for _, e := range doc.ExecutionErrors {
		fmt.Fprintf(w, "Execution error: %s\n", e)
	}
	if len(doc.ExecutionErrors) > 0 {
		fmt.Fprintln(w)
	}

	if artifactPath != "" {
		fmt.Fprintf(w, "Report: %s\n", artifactPath)
	}
	return nil
}

func status(a *model.SuiteAnalysis) string {
	switch {
	case a.ConsistentFailures > 0:
		return "FAIL"
	case a.FlakyTests > 0:
		return "FLAKY"
	case a.TotalTests == 0:
		return "EMPTY"
	default:
		return "PASS"
	}
}

func (cfg *TerminalConfig) style(t table.Writer, a *model.SuiteAnalysis) {
	if !cfg.Color {
		t.SetStyle(table.StyleLight)
		return
	}
	switch status(a) {
	case "FAIL", "EMPTY":
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case "FLAKY":
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
}

func (cfg *TerminalConfig) health(pct float64) string {
	h := aggregate.HealthOf(pct)
	return cfg.colorize(healthLabel(h), healthColor(h))
}

func (cfg *TerminalConfig) colorize(s string, c text.Colors) string {
	if !cfg.Color {
		return s
	}
	return c.Sprint(s)
}

func healthColor(h model.Health) text.Colors {
	switch h {
	case model.HealthExcellent:
		return text.Colors{text.FgGreen}
	case model.HealthGood:
		return text.Colors{text.FgCyan}
	case model.HealthFair:
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgRed}
	}
}

func kindColor(rec model.TestRecord) text.Colors {
	if rec.IsConsistentFailure {
		return text.Colors{text.FgRed}
	}
	return text.Colors{text.FgYellow}
}

// RenderMarkdownForTerminal renders markdown for display, wrapping at width
// columns (default 100).
func RenderMarkdownForTerminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = defaultWordWrap
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return renderer.Render(markdown)
}
