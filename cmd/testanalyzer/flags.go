package main

import (
	"github.com/urfave/cli/v2"

	"github.com/boyarskiy/testanalyzer/internal/config"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

const envVarPrefix = "TESTANALYZER_"

const (
	flagConfig          = "config"
	flagLogLevel        = "log-level"
	flagLogFormat       = "log-format"
	flagVerbose         = "verbose"
	flagRuns            = "runs"
	flagParallel        = "parallel"
	flagMaxWorkers      = "max-workers"
	flagCommand         = "command"
	flagWorkDir         = "work-dir"
	flagFile            = "file"
	flagTestGlob        = "test-glob"
	flagTimeout         = "timeout"
	flagDelay           = "delay"
	flagSlowThreshold   = "slow-threshold"
	flagReportDir       = "report-dir"
	flagModule          = "module"
	flagTool            = "tool"
	flagKeep            = "keep"
	flagMinPassRate     = "min-pass-rate"
	flagMetricsFile     = "metrics-file"
	flagJSON            = "json"
	flagCoverageSummary = "coverage-summary"
	flagType            = "type"
	flagRaw             = "raw"
	flagDryRun          = "dry-run"
)

func envVars(name string) []string {
	return []string{envVarPrefix + name}
}

// Flags are built per app: urfave/cli flags record whether an env var set
// them, so sharing instances between apps leaks state.

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagLogLevel,
			Value:   "info",
			EnvVars: envVars("LOG_LEVEL"),
			Usage:   "Log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:    flagLogFormat,
			Value:   "text",
			EnvVars: envVars("LOG_FORMAT"),
			Usage:   "Log format: text or json",
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			EnvVars: envVars("VERBOSE"),
			Usage:   "Debug logging and stack traces on errors",
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagConfig,
		EnvVars: envVars("CONFIG"),
		Usage:   "Path to a YAML config file (default: " + config.DefaultFile + " when present)",
	}
}

func reportDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagReportDir,
		Value:   config.DefaultReportDir,
		EnvVars: envVars("REPORT_DIR"),
		Usage:   "Root directory of the report tree",
	}
}

func moduleFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagModule,
		Aliases: []string{"m"},
		EnvVars: envVars("MODULE"),
		Usage:   "Module name used in report file names",
	}
}

func toolFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagTool,
		EnvVars: envVars("TOOL"),
		Usage:   "Tool name used in report file names",
	}
}

func keepFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    flagKeep,
		Value:   config.DefaultKeepCount,
		EnvVars: envVars("KEEP"),
		Usage:   "Number of reports to keep per module and type",
	}
}

func analysisFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.IntFlag{
			Name:    flagRuns,
			Aliases: []string{"n"},
			Value:   config.DefaultRunCount,
			EnvVars: envVars("RUNS"),
			Usage:   "Number of times to run the suite",
		},
		&cli.BoolFlag{
			Name:    flagParallel,
			EnvVars: envVars("PARALLEL"),
			Usage:   "Split the test files into chunks and run the chunks concurrently",
		},
		&cli.IntFlag{
			Name:    flagMaxWorkers,
			Value:   config.DefaultMaxWorkers,
			EnvVars: envVars("MAX_WORKERS"),
			Usage:   "Number of concurrent chunks in parallel mode",
		},
		&cli.StringFlag{
			Name:    flagCommand,
			Value:   config.DefaultCommand,
			EnvVars: envVars("COMMAND"),
			Usage:   "Test runner command emitting the JSON protocol (or pass it after --)",
		},
		&cli.StringFlag{
			Name:    flagWorkDir,
			EnvVars: envVars("WORK_DIR"),
			Usage:   "Directory to run the test command in",
		},
		&cli.StringSliceFlag{
			Name:    flagFile,
			Aliases: []string{"f"},
			EnvVars: envVars("FILES"),
			Usage:   "Test file to run; repeatable",
		},
		&cli.StringFlag{
			Name:    flagTestGlob,
			Value:   config.DefaultTestGlob,
			EnvVars: envVars("TEST_GLOB"),
			Usage:   "Glob used to discover test files in parallel mode",
		},
		&cli.DurationFlag{
			Name:    flagTimeout,
			Value:   config.DefaultTimeout,
			EnvVars: envVars("TIMEOUT"),
			Usage:   "Time limit for one run (0 = none)",
		},
		&cli.DurationFlag{
			Name:    flagDelay,
			Value:   config.DefaultInterRunDelay,
			EnvVars: envVars("DELAY"),
			Usage:   "Pause between runs",
		},
		&cli.DurationFlag{
			Name:    flagSlowThreshold,
			Value:   config.DefaultSlowTestThreshold,
			EnvVars: envVars("SLOW_THRESHOLD"),
			Usage:   "Average duration above which a test is reported as slow",
		},
		reportDirFlag(),
		moduleFlag(),
		toolFlag(),
		keepFlag(),
		&cli.Float64Flag{
			Name:    flagMinPassRate,
			Value:   config.DefaultMinPassRate,
			EnvVars: envVars("MIN_PASS_RATE"),
			Usage:   "Pass rate (percent) below which the analysis fails",
		},
		&cli.StringFlag{
			Name:    flagMetricsFile,
			EnvVars: envVars("METRICS_FILE"),
			Usage:   "Write Prometheus metrics to this textfile",
		},
		&cli.BoolFlag{
			Name:  flagJSON,
			Usage: "Print the report JSON to stdout",
		},
	}
}

func suiteFlags() []cli.Flag {
	return append(analysisFlags(), &cli.StringFlag{
		Name:    flagCoverageSummary,
		EnvVars: envVars("COVERAGE_SUMMARY"),
		Usage:   "Coverage summary JSON produced by the coverage tool",
	})
}

func reportFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		reportDirFlag(),
		moduleFlag(),
		toolFlag(),
		&cli.StringFlag{
			Name:    flagType,
			Aliases: []string{"t"},
			Value:   string(model.ReportTests),
			Usage:   "Report type: coverage, tests, failures or suite",
		},
	}
}
