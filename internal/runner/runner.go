// Package runner implements the execution loop for testanalyzer.
//
// The default mode runs the whole suite N times, one run after the other,
// with a fixed delay in between: flaky detection needs independent full-suite
// executions and the suite's fixtures are not assumed safe for concurrent use.
// Parallel mode partitions the test files into chunks, runs one process per
// chunk concurrently and merges the chunks only after all of them finished.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-zglob"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/boyarskiy/testanalyzer/internal/decoder"
	"github.com/boyarskiy/testanalyzer/internal/metrics"
	"github.com/boyarskiy/testanalyzer/internal/model"
)

// Config holds the configuration for the runner.
type Config struct {
	Runs     int
	Parallel bool
	// MaxWorkers bounds the number of chunks in parallel mode.
	MaxWorkers int
	// Command is the runner invocation without test file arguments.
	Command []string
	Dir     string
	// Files are appended to Command. In parallel mode they are discovered
	// with TestGlob when empty.
	Files    []string
	TestGlob string
	// Timeout bounds each process. Zero means no limit.
	Timeout time.Duration
	// Delay separates consecutive runs.
	Delay time.Duration

	Launcher Launcher
	Log      *logrus.Entry
	Metrics  *metrics.Recorder
	// OnRunStart is called before run i of n starts.
	OnRunStart func(i, n int)
}

// Result holds the results of all runs.
type Result struct {
	// Runs are the runs that produced outcomes, in run order.
	Runs      []model.RunResult
	Errors    []*ExecutionError
	Requested int
	// Fatal is set when the runner could not be launched at all; the
	// remaining runs were not attempted.
	Fatal error
}

// Completed returns the number of runs that produced outcomes.
func (r *Result) Completed() int {
	return len(r.Runs)
}

// Err combines every execution error, or returns nil.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, e := range r.Errors {
		merr = multierror.Append(merr, e)
	}
	return merr.ErrorOrNil()
}

// Resolve validates cfg and, in parallel mode, discovers the test files when
// none were given. It returns ErrNoTestFiles when parallel mode has nothing
// to partition. Run calls it; callers may call it first to reject a
// configuration before any run starts.
func (cfg *Config) Resolve() error {
	if cfg.Runs <= 0 {
		return fmt.Errorf("runs must be a positive integer, got %d", cfg.Runs)
	}
	if len(cfg.Command) == 0 {
		return fmt.Errorf("test command is required")
	}
	if cfg.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}
	if !cfg.Parallel || len(cfg.Files) > 0 {
		return nil
	}

	files, err := DiscoverTestFiles(cfg.Dir, cfg.TestGlob)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrNoTestFiles
	}
	cfg.Files = files
	return nil
}

// Run executes the configured runs and collects their outcomes.
func Run(ctx context.Context, cfg *Config) (*Result, error) {
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var chunks [][]string
	if cfg.Parallel {
		chunks = ChunkFiles(cfg.Files, cfg.MaxWorkers)
		log.WithField("files", len(cfg.Files)).WithField("chunks", len(chunks)).Debug("Partitioned test files")
	}

	result := &Result{Requested: cfg.Runs}

	for i := 1; i <= cfg.Runs; i++ {
		if i > 1 && cfg.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Delay):
			}
		}
		if ctx.Err() != nil {
			break
		}

		if cfg.OnRunStart != nil {
			cfg.OnRunStart(i, cfg.Runs)
		}
		log.Infof("Run %d/%d", i, cfg.Runs)

		var (
			run  *model.RunResult
			errs []*ExecutionError
		)
		if cfg.Parallel {
			run, errs = executeChunked(ctx, cfg, log, i, chunks)
		} else {
			var err *ExecutionError
			run, err = executeRun(ctx, cfg, i, 0, withFiles(cfg.Command, cfg.Files))
			if err != nil {
				errs = append(errs, err)
			}
		}

		for _, e := range errs {
			log.WithError(e).Warn("Run did not complete")
			result.Errors = append(result.Errors, e)
		}
		if run != nil {
			result.Runs = append(result.Runs, *run)
		}

		if fatal := fatalLaunchError(errs); fatal != nil && run == nil {
			result.Fatal = fatal
			break
		}
	}

	return result, nil
}

// fatalLaunchError returns the first error that will repeat on every run:
// the runner binary does not exist.
func fatalLaunchError(errs []*ExecutionError) error {
	for _, e := range errs {
		if e.Launch && errors.Is(e.Cause, exec.ErrNotFound) {
			return e
		}
	}
	return nil
}

// executeRun runs one process and decodes its output with a fresh decoder.
func executeRun(ctx context.Context, cfg *Config, runIndex, chunk int, argv []string) (*model.RunResult, *ExecutionError) {
	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	fail := func(e *ExecutionError) (*model.RunResult, *ExecutionError) {
		e.Run, e.Chunk, e.Command = runIndex, chunk, argv
		cfg.Metrics.RunFailed(time.Since(start))
		return nil, e
	}

	proc, err := cfg.Launcher.Start(runCtx, argv, cfg.Dir)
	if err != nil {
		return fail(&ExecutionError{Launch: true, Cause: err})
	}

	sum, readErr := decoder.ReadAll(proc.Stdout())
	exitCode, waitErr := proc.Wait()
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fail(&ExecutionError{TimedOut: true, ExitCode: exitCode, Cause: fmt.Errorf("exceeded %s", cfg.Timeout)})
	}
	if ctx.Err() != nil {
		return fail(&ExecutionError{ExitCode: exitCode, Cause: ctx.Err()})
	}
	if waitErr != nil {
		return fail(&ExecutionError{ExitCode: exitCode, Cause: waitErr})
	}
	if readErr != nil {
		return fail(&ExecutionError{ExitCode: exitCode, Cause: fmt.Errorf("failed to read runner output: %w", readErr)})
	}
	// Exit codes other than 0 and 1 are execution problems. A run that still
	// reported outcomes crashed part way and is kept.
	if exitCode != 0 && exitCode != 1 && len(sum.Outcomes) == 0 {
		return fail(&ExecutionError{ExitCode: exitCode})
	}

	passed := 0
	for _, o := range sum.Outcomes {
		if o.Passed {
			passed++
		}
	}
	cfg.Metrics.RunCompleted(elapsed, passed, len(sum.Outcomes)-passed)

	return &model.RunResult{
		RunIndex:     runIndex,
		Outcomes:     sum.Outcomes,
		ExitCode:     exitCode,
		Duration:     elapsed,
		Success:      sum.Success,
		SkippedLines: sum.Skipped,
	}, nil
}

type chunkResult struct {
	chunk int
	run   *model.RunResult
	err   *ExecutionError
}

// executeChunked runs every chunk concurrently and merges them once all of
// them are done. Each chunk decodes its own output.
func executeChunked(ctx context.Context, cfg *Config, log *logrus.Entry, runIndex int, chunks [][]string) (*model.RunResult, []*ExecutionError) {
	start := time.Now()

	p := pool.NewWithResults[chunkResult]().WithMaxGoroutines(len(chunks))
	for n, files := range chunks {
		files := files
		chunk := n + 1
		argv := withFiles(cfg.Command, files)
		p.Go(func() chunkResult {
			log.WithField("chunk", chunk).WithField("files", len(files)).Debug("Starting chunk")
			run, err := executeRun(ctx, cfg, runIndex, chunk, argv)
			return chunkResult{chunk: chunk, run: run, err: err}
		})
	}
	results := p.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].chunk < results[j].chunk })

	var (
		merged *model.RunResult
		errs   []*ExecutionError
	)
	for _, cr := range results {
		if cr.err != nil {
			errs = append(errs, cr.err)
			continue
		}
		if merged == nil {
			merged = &model.RunResult{RunIndex: runIndex}
		}
		mergeChunk(merged, cr.run)
	}
	if merged != nil {
		merged.Duration = time.Since(start)
	}
	return merged, errs
}

func mergeChunk(into, chunk *model.RunResult) {
	into.Outcomes = append(into.Outcomes, chunk.Outcomes...)
	into.SkippedLines += chunk.SkippedLines
	if chunk.ExitCode > into.ExitCode {
		into.ExitCode = chunk.ExitCode
	}
	if chunk.Success != nil {
		success := *chunk.Success
		if into.Success != nil {
			success = success && *into.Success
		}
		into.Success = &success
	}
}

func withFiles(argv, files []string) []string {
	out := make([]string, 0, len(argv)+len(files))
	out = append(out, argv...)
	return append(out, files...)
}

// DiscoverTestFiles expands a glob (which may use **) relative to dir and
// returns the matches relative to dir, sorted.
func DiscoverTestFiles(dir, glob string) ([]string, error) {
	if glob == "" {
		return nil, nil
	}
	base := dir
	if base == "" {
		base = "."
	}

	matches, err := zglob.Glob(filepath.Join(base, glob))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to expand test glob %q: %w", glob, err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(base, m)
		if err != nil {
			rel = m
		}
		files = append(files, filepath.ToSlash(rel))
	}
	sort.Strings(files)
	return files, nil
}

// ChunkFiles partitions files into chunks of ceil(len(files)/maxWorkers).
func ChunkFiles(files []string, maxWorkers int) [][]string {
	if len(files) == 0 {
		return nil
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	size := (len(files) + maxWorkers - 1) / maxWorkers
	chunks := make([][]string, 0, maxWorkers)
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		chunks = append(chunks, files[start:end])
	}
	return chunks
}
