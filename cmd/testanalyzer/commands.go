package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/boyarskiy/testanalyzer/internal/analysis"
	"github.com/boyarskiy/testanalyzer/internal/config"
	"github.com/boyarskiy/testanalyzer/internal/errors"
	"github.com/boyarskiy/testanalyzer/internal/lifecycle"
	"github.com/boyarskiy/testanalyzer/internal/logging"
	"github.com/boyarskiy/testanalyzer/internal/metrics"
	"github.com/boyarskiy/testanalyzer/internal/model"
	"github.com/boyarskiy/testanalyzer/internal/report"
)

const glamourWidth = 100

func (a *cliApp) analyze(c *cli.Context) error {
	return a.runAnalysis(c, model.ReportTests, nil)
}

func (a *cliApp) suite(c *cli.Context) error {
	var coverage *model.CoverageSummary
	if path := c.String(flagCoverageSummary); path != "" {
		var err error
		if coverage, err = loadCoverage(path); err != nil {
			return err
		}
	}
	return a.runAnalysis(c, model.ReportSuite, coverage)
}

func (a *cliApp) runAnalysis(c *cli.Context, typ model.ReportType, coverage *model.CoverageSummary) error {
	cfg, err := analysisConfig(c)
	if err != nil {
		return err
	}

	var runnerStderr io.Writer
	if cfg.Verbose {
		runnerStderr = a.stderr
	}

	analyzer, err := analysis.New(analysis.Options{
		Config:   cfg,
		Launcher: newLauncher(runnerStderr),
		Reports:  lifecycle.NewManager(cfg.ReportDir, lifecycle.WithLogger(logging.Component(a.log, "lifecycle"))),
		Metrics:  metrics.New(),
		Log:      a.log,
	})
	if err != nil {
		return err
	}

	result, err := analyzer.Run(c.Context, typ, coverage)
	if err != nil {
		return err
	}

	if c.Bool(flagJSON) {
		data, err := report.MarshalJSON(result.Document)
		if err != nil {
			return errors.WithStackTrace(err)
		}
		fmt.Fprintln(a.stdout, string(data))
	} else {
		if err := report.RenderTerminal(report.DefaultTerminalConfig(a.stdout), result.Document, result.ReportPath); err != nil {
			return errors.WithStackTrace(err)
		}
		if result.FailuresPath != "" {
			fmt.Fprintf(a.stdout, "Failures report: %s\n", result.FailuresPath)
		}
	}

	a.code = result.ExitCode
	return nil
}

func (a *cliApp) latest(c *cli.Context) error {
	cfg, typ, err := reportConfig(c)
	if err != nil {
		return err
	}

	module := analysis.ModuleName(cfg)
	mgr := lifecycle.NewManager(cfg.ReportDir, lifecycle.WithLogger(logging.Component(a.log, "lifecycle")))
	path, err := mgr.FindLatestReport(module, typ, c.String(flagTool))
	if err != nil {
		return errors.WithStackTraceAndPrefix(err, "no %s report for module %s in %s", typ, module, cfg.ReportDir)
	}
	a.log.WithField("path", path).Debug("Found latest report")

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStackTrace(err)
	}

	out := string(data)
	if !c.Bool(flagRaw) && report.IsTerminal(a.stdout) {
		if out, err = report.RenderMarkdownForTerminal(out, glamourWidth); err != nil {
			return err
		}
	}
	fmt.Fprint(a.stdout, out)
	return nil
}

func (a *cliApp) clean(c *cli.Context) error {
	cfg, typ, err := reportConfig(c)
	if err != nil {
		return err
	}

	keep := cfg.KeepCount
	if c.IsSet(flagKeep) {
		keep = c.Int(flagKeep)
	}
	dryRun := c.Bool(flagDryRun)

	types := model.ReportTypes
	if c.IsSet(flagType) {
		types = []model.ReportType{typ}
	}

	module := analysis.ModuleName(cfg)
	mgr := lifecycle.NewManager(cfg.ReportDir, lifecycle.WithLogger(logging.Component(a.log, "lifecycle")))
	tool := c.String(flagTool)

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	for _, t := range types {
		var deleted []string
		if tool != "" {
			deleted, err = mgr.CleanupToolReports(module, t, tool, keep, dryRun)
		} else {
			deleted, err = mgr.CleanupReports(module, t, keep, dryRun)
		}
		if err != nil {
			return err
		}
		for _, path := range deleted {
			fmt.Fprintf(a.stdout, "%s %s\n", verb, path)
		}
	}
	return nil
}

// analysisConfig loads the config file and applies the flags that were set
// explicitly. A command after -- replaces the configured one.
func analysisConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, errors.ErrorWithExitCode{Err: err, ExitCode: exitUsage}
	}

	if c.Bool(flagVerbose) {
		cfg.Verbose = true
	}
	if c.IsSet(flagRuns) {
		cfg.RunCount = c.Int(flagRuns)
	}
	if c.IsSet(flagParallel) {
		cfg.Parallel = c.Bool(flagParallel)
	}
	if c.IsSet(flagMaxWorkers) {
		cfg.MaxWorkers = c.Int(flagMaxWorkers)
	}
	if c.IsSet(flagCommand) {
		cfg.Command = c.String(flagCommand)
	}
	if c.IsSet(flagWorkDir) {
		cfg.WorkDir = c.String(flagWorkDir)
	}
	if c.IsSet(flagFile) {
		cfg.TargetFiles = c.StringSlice(flagFile)
	}
	if c.IsSet(flagTestGlob) {
		cfg.TestGlob = c.String(flagTestGlob)
	}
	if c.IsSet(flagTimeout) {
		cfg.Timeout = c.Duration(flagTimeout)
	}
	if c.IsSet(flagDelay) {
		cfg.InterRunDelay = c.Duration(flagDelay)
	}
	if c.IsSet(flagSlowThreshold) {
		cfg.SlowTestThreshold = c.Duration(flagSlowThreshold)
	}
	if c.IsSet(flagKeep) {
		cfg.KeepCount = c.Int(flagKeep)
	}
	if c.IsSet(flagMinPassRate) {
		cfg.MinPassRate = c.Float64(flagMinPassRate)
	}
	if c.IsSet(flagMetricsFile) {
		cfg.MetricsFile = c.String(flagMetricsFile)
	}
	applyReportFlags(c, cfg)

	if args := c.Args().Slice(); len(args) > 0 {
		cfg.CommandArgs = args
		cfg.Command = strings.Join(args, " ")
	}
	return cfg, nil
}

// reportConfig loads the config for the report commands and parses --type.
func reportConfig(c *cli.Context) (*config.Config, model.ReportType, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, "", errors.ErrorWithExitCode{Err: err, ExitCode: exitUsage}
	}
	applyReportFlags(c, cfg)

	typ := model.ReportType(c.String(flagType))
	if !typ.Valid() {
		return nil, "", errors.ErrorWithExitCode{
			Err:      errors.Errorf("unknown report type %q, expected one of %v", typ, model.ReportTypes),
			ExitCode: exitUsage,
		}
	}
	return cfg, typ, nil
}

func applyReportFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagReportDir) {
		cfg.ReportDir = c.String(flagReportDir)
	}
	if c.IsSet(flagModule) {
		cfg.ModuleName = c.String(flagModule)
	}
	if c.IsSet(flagTool) {
		cfg.ToolName = c.String(flagTool)
	}
}

func loadCoverage(path string) (*model.CoverageSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "failed to read coverage summary")
	}
	var coverage model.CoverageSummary
	if err := json.Unmarshal(data, &coverage); err != nil {
		return nil, errors.ErrorWithExitCode{
			Err:      errors.WithStackTraceAndPrefix(err, "failed to parse coverage summary %s", path),
			ExitCode: exitUsage,
		}
	}
	return &coverage, nil
}
