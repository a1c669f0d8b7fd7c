// Package analysis drives one analysis from the first run to the written
// report: run the suite N times, correlate outcomes across runs, classify
// failures, aggregate the suite and persist the report artifacts.
//
// A failing test is data, never an error. The analysis only fails when the
// test runner cannot be launched at all.
package analysis

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/boyarskiy/testanalyzer/internal/aggregate"
	"github.com/boyarskiy/testanalyzer/internal/classify"
	"github.com/boyarskiy/testanalyzer/internal/config"
	"github.com/boyarskiy/testanalyzer/internal/correlate"
	"github.com/boyarskiy/testanalyzer/internal/errors"
	"github.com/boyarskiy/testanalyzer/internal/lifecycle"
	"github.com/boyarskiy/testanalyzer/internal/metrics"
	"github.com/boyarskiy/testanalyzer/internal/model"
	"github.com/boyarskiy/testanalyzer/internal/pathresolver"
	"github.com/boyarskiy/testanalyzer/internal/report"
	"github.com/boyarskiy/testanalyzer/internal/runner"
)

// Exit codes of an analysis.
const (
	ExitPass = 0
	ExitFail = 1
)

// ErrAlreadyStarted is returned when Run is called twice on one Analyzer.
var ErrAlreadyStarted = errors.New("analysis already started")

// Options wires an Analyzer.
type Options struct {
	Config   *config.Config
	Launcher runner.Launcher
	Reports  *lifecycle.Manager
	// Metrics may be nil.
	Metrics *metrics.Recorder
	Log     *logrus.Entry
	// OnProgress is called on every state transition and before every run.
	OnProgress func(Progress)
}

// Analyzer runs one analysis. It is not reusable.
type Analyzer struct {
	cfg        *config.Config
	launcher   runner.Launcher
	reports    *lifecycle.Manager
	metrics    *metrics.Recorder
	log        *logrus.Entry
	onProgress func(Progress)

	mu    sync.Mutex
	state State
}

// Result is the outcome of a finished analysis.
type Result struct {
	Analysis *model.SuiteAnalysis
	Document *report.Document
	// ReportPath is the markdown path of the main report.
	ReportPath string
	// FailuresPath is set when a separate failures report was written.
	FailuresPath string
	RunErrors    []*runner.ExecutionError
	ExitCode     int
}

// New validates the configuration and creates an Analyzer.
func New(opts Options) (*Analyzer, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Launcher == nil {
		opts.Launcher = &runner.ExecLauncher{}
	}
	if opts.Reports == nil {
		opts.Reports = lifecycle.NewManager(opts.Config.ReportDir)
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Analyzer{
		cfg:        opts.Config,
		launcher:   opts.Launcher,
		reports:    opts.Reports,
		metrics:    opts.Metrics,
		log:        log.WithField("component", "analysis"),
		onProgress: opts.OnProgress,
		state:      StateIdle,
	}, nil
}

// State returns the current state.
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Analyzer) transition(p Progress) {
	a.mu.Lock()
	from := a.state
	if !canTransition(from, p.State) {
		a.mu.Unlock()
		panic("analysis: invalid transition from " + string(from) + " to " + string(p.State))
	}
	a.state = p.State
	a.mu.Unlock()

	a.log.WithField("state", p.String()).Debug("Analysis state changed")
	if a.onProgress != nil {
		a.onProgress(p)
	}
}

// Run executes the analysis and writes a report of type typ. Coverage is
// embedded when non-nil. When typ is tests and some tests failed, a failures
// report is written as well.
//
// An error is returned when the runner could not be launched, the context
// was cancelled, or the report could not be written. In all these cases no
// Result is produced.
func (a *Analyzer) Run(ctx context.Context, typ model.ReportType, coverage *model.CoverageSummary) (*Result, error) {
	if !typ.Valid() {
		return nil, errors.Errorf("unknown report type %q", typ)
	}
	if a.State() != StateIdle {
		return nil, ErrAlreadyStarted
	}

	argv, err := a.cfg.Argv()
	if err != nil {
		return nil, err
	}

	runs := a.cfg.RunCount
	runCfg := &runner.Config{
		Runs:       runs,
		Parallel:   a.cfg.Parallel,
		MaxWorkers: a.cfg.MaxWorkers,
		Command:    argv,
		Dir:        a.cfg.WorkDir,
		Files:      a.cfg.TargetFiles,
		TestGlob:   a.cfg.TestGlob,
		Timeout:    a.cfg.Timeout,
		Delay:      a.cfg.InterRunDelay,
		Launcher:   a.launcher,
		Log:        a.log.WithField("component", "runner"),
		Metrics:    a.metrics,
		OnRunStart: func(i, n int) {
			a.transition(Progress{State: StateRunning, Run: i, Runs: n})
		},
	}
	// Nothing to run is a configuration problem, rejected while still idle.
	if err := runCfg.Resolve(); err != nil {
		return nil, &config.ValidationError{Field: "testGlob", Message: err.Error()}
	}

	a.transition(Progress{State: StateRunning, Runs: runs})

	executed, err := runner.Run(ctx, runCfg)
	if err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "failed to run tests")
	}
	if executed.Fatal != nil {
		a.transition(Progress{State: StateFailed})
		return nil, errors.WithStackTraceAndPrefix(executed.Fatal, "cannot launch test runner")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "analysis aborted")
	}

	a.transition(Progress{State: StateCorrelating})
	records := correlate.Correlate(executed.Runs)

	a.transition(Progress{State: StateClassifying})
	classify.Records(records)

	a.transition(Progress{State: StateAggregating})
	suite := aggregate.Aggregate(records, aggregate.Options{
		RunsRequested: executed.Requested,
		RunsCompleted: executed.Completed(),
		SlowThreshold: a.cfg.SlowTestThreshold,
	})
	a.metrics.Analysis(suite.PassRate, suite.StabilityScore)

	a.transition(Progress{State: StateReporting})
	result := &Result{
		Analysis:  suite,
		RunErrors: executed.Errors,
		ExitCode:  ExitCode(suite, a.cfg.MinPassRate),
	}

	module := ModuleName(a.cfg)
	doc := &report.Document{
		Module:          module,
		Tool:            a.cfg.ToolName,
		Command:         a.cfg.Command,
		Analysis:        suite,
		Coverage:        coverage,
		Recommendations: report.Recommendations(suite, coverage),
	}
	for _, e := range executed.Errors {
		doc.ExecutionErrors = append(doc.ExecutionErrors, e.Error())
	}

	if result.ReportPath, err = a.write(doc, module, typ); err != nil {
		return nil, err
	}
	result.Document = doc

	if typ == model.ReportTests && len(suite.FailingRecords) > 0 {
		if result.FailuresPath, err = a.write(failuresDocument(doc), module, model.ReportFailures); err != nil {
			return nil, err
		}
	}

	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteFile(a.cfg.MetricsFile); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics file")
		}
	}

	a.transition(Progress{State: StateDone})
	a.log.WithFields(logrus.Fields{
		"total":      suite.TotalTests,
		"flaky":      suite.FlakyTests,
		"consistent": suite.ConsistentFailures,
		"pass_rate":  suite.PassRate,
	}).Info("Analysis complete")

	return result, nil
}

// write fills the report identity of doc and persists it.
func (a *Analyzer) write(doc *report.Document, module string, typ model.ReportType) (string, error) {
	rc, err := a.reports.StartReport(module, typ, a.cfg.ToolName)
	if err != nil {
		return "", err
	}
	doc.Module = rc.Module
	doc.Tool = rc.Tool
	doc.Type = typ
	doc.ReportID = rc.ID
	doc.GeneratedAt = rc.Timestamp

	md, err := report.RenderMarkdown(doc)
	if err != nil {
		return "", errors.WithStackTrace(err)
	}
	payload, err := report.MarshalJSON(doc)
	if err != nil {
		return "", errors.WithStackTrace(err)
	}
	return a.reports.WriteReport(rc, []byte(md), payload, a.cfg.KeepCount)
}

// failuresDocument narrows doc to its failing tests: the summary counts stay
// for context, slow tests and coverage are dropped.
func failuresDocument(doc *report.Document) *report.Document {
	suite := *doc.Analysis
	suite.SlowTests = nil

	failures := *doc
	failures.Analysis = &suite
	failures.Coverage = nil
	failures.Recommendations = report.Recommendations(&suite, nil)
	return &failures
}

// ExitCode is ExitPass only when tests were reported, none failed in every
// run, and the pass rate reaches minPassRate.
func ExitCode(a *model.SuiteAnalysis, minPassRate float64) int {
	if a == nil || a.TotalTests == 0 || a.ConsistentFailures > 0 || a.PassRate < minPassRate {
		return ExitFail
	}
	return ExitPass
}

// ModuleName is the configured module name or the one resolved from a single
// target file or the working directory.
func ModuleName(cfg *config.Config) string {
	if name := pathresolver.Sanitize(cfg.ModuleName); name != "" {
		return name
	}
	if len(cfg.TargetFiles) == 1 {
		return pathresolver.Resolve(cfg.TargetFiles[0])
	}
	if cfg.WorkDir != "" {
		return pathresolver.Resolve(filepath.Base(filepath.Clean(cfg.WorkDir)))
	}
	return pathresolver.Root
}
