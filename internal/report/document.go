// Package report renders a suite analysis as markdown, JSON and terminal
// output.
package report

import (
	"time"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// Document is the data behind one report artifact. It is the standalone JSON
// twin and is embedded verbatim in the markdown.
type Document struct {
	Module          string                 `json:"module"`
	Tool            string                 `json:"tool"`
	Type            model.ReportType       `json:"reportType"`
	ReportID        string                 `json:"reportId"`
	GeneratedAt     time.Time              `json:"generatedAt"`
	Command         string                 `json:"command,omitempty"`
	Analysis        *model.SuiteAnalysis   `json:"analysis"`
	Coverage        *model.CoverageSummary `json:"coverage,omitempty"`
	ExecutionErrors []string               `json:"executionErrors,omitempty"`
	Recommendations []string               `json:"recommendations"`
}
