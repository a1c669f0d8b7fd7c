// Package main is the entry point for the testanalyzer CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/boyarskiy/testanalyzer/internal/config"
	"github.com/boyarskiy/testanalyzer/internal/errors"
	"github.com/boyarskiy/testanalyzer/internal/logging"
	"github.com/boyarskiy/testanalyzer/internal/runner"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

// newLauncher starts the test runner processes. Tests replace it.
var newLauncher = func(stderr io.Writer) runner.Launcher {
	return &runner.ExecLauncher{Stderr: stderr}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliApp carries the state shared by the command actions of one invocation.
type cliApp struct {
	stdout  io.Writer
	stderr  io.Writer
	log     *logrus.Entry
	verbose bool
	// code is the exit code of a command that finished without an error.
	code int
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &cliApp{stdout: stdout, stderr: stderr, log: logging.Discard()}
	app := a.newApp()

	err := app.RunContext(ctx, append([]string{app.Name}, args...))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if a.verbose {
			if stack := errors.ErrorStack(err); stack != "" {
				fmt.Fprintln(stderr, stack)
			}
		}
		return exitCodeOf(err)
	}
	return a.code
}

func (a *cliApp) newApp() *cli.App {
	commands := []*cli.Command{
		{
			Name:      "analyze",
			Usage:     "Run the test suite repeatedly and report flaky and failing tests",
			ArgsUsage: "[-- <test command>]",
			Flags:     analysisFlags(),
			Action:    errors.WithPanicHandling(a.analyze),
		},
		{
			Name:      "suite",
			Usage:     "Like analyze, but writes a suite report that can embed a coverage summary",
			ArgsUsage: "[-- <test command>]",
			Flags:     suiteFlags(),
			Action:    errors.WithPanicHandling(a.suite),
		},
		{
			Name:   "latest",
			Usage:  "Print the newest report of a module",
			Flags:  append(reportFlags(), &cli.BoolFlag{Name: flagRaw, Usage: "Print the markdown without terminal rendering"}),
			Action: errors.WithPanicHandling(a.latest),
		},
		{
			Name:  "clean",
			Usage: "Delete all but the newest reports of a module",
			Flags: append(reportFlags(), keepFlag(), &cli.BoolFlag{
				Name:  flagDryRun,
				Usage: "List the reports that would be deleted",
			}),
			Action: errors.WithPanicHandling(a.clean),
		},
	}
	for _, cmd := range commands {
		cmd.OnUsageError = onUsageError
	}

	return &cli.App{
		Name:                 "testanalyzer",
		Usage:                "Find flaky and consistently failing tests across repeated runs",
		Writer:               a.stdout,
		ErrWriter:            a.stderr,
		Flags:                globalFlags(),
		Commands:             commands,
		EnableBashCompletion: true,
		Before:               a.before,
		OnUsageError:         onUsageError,
		// Exit codes are mapped in run.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func (a *cliApp) before(c *cli.Context) error {
	a.verbose = c.Bool(flagVerbose)

	level := c.String(flagLogLevel)
	if a.verbose {
		level = "debug"
	}
	log, err := logging.New(level, c.String(flagLogFormat), a.stderr)
	if err != nil {
		return errors.ErrorWithExitCode{Err: err, ExitCode: exitUsage}
	}
	a.log = log
	return nil
}

func onUsageError(_ *cli.Context, err error, _ bool) error {
	return errors.ErrorWithExitCode{Err: err, ExitCode: exitUsage}
}

// exitCodeOf maps an error returned by a command to the process exit code.
func exitCodeOf(err error) int {
	var withCode errors.ErrorWithExitCode
	if errors.As(err, &withCode) {
		return withCode.ExitCode
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	var invalid *config.ValidationError
	if errors.As(err, &invalid) {
		return exitUsage
	}
	return exitFailure
}
