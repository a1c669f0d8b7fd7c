package analysis

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyarskiy/testanalyzer/internal/config"
	"github.com/boyarskiy/testanalyzer/internal/lifecycle"
	"github.com/boyarskiy/testanalyzer/internal/metrics"
	"github.com/boyarskiy/testanalyzer/internal/model"
	"github.com/boyarskiy/testanalyzer/internal/report"
	"github.com/boyarskiy/testanalyzer/internal/runner"
)

type fakeProcess struct {
	out      string
	exitCode int
}

func (p *fakeProcess) Stdout() io.Reader   { return strings.NewReader(p.out) }
func (p *fakeProcess) Wait() (int, error) { return p.exitCode, nil }

// scriptLauncher replays one output per run.
type scriptLauncher struct {
	outputs  []string
	startErr error
	calls    int
}

func (l *scriptLauncher) Start(_ context.Context, _ []string, _ string) (runner.Process, error) {
	if l.startErr != nil {
		l.calls++
		return nil, l.startErr
	}
	out := ""
	if l.calls < len(l.outputs) {
		out = l.outputs[l.calls]
	}
	l.calls++
	exitCode := 0
	if strings.Contains(out, `"result":"failure"`) {
		exitCode = 1
	}
	return &fakeProcess{out: out, exitCode: exitCode}, nil
}

// authRun is one run of a two-test suite in the keyed shorthand protocol.
func authRun(loginPasses, logoutPasses bool) string {
	result := func(ok bool) string {
		if ok {
			return "success"
		}
		return "failure"
	}
	lines := []string{
		`{"suite":{"id":0,"path":"test/auth_test.dart"}}`,
		`{"group":{"id":1,"name":"AuthService","parentID":null,"testCount":2}}`,
		`{"test":{"id":2,"name":"AuthService login","suiteID":0,"groupID":1}}`,
		`{"testStart":{"id":2}}`,
		`00:01 +0: AuthService login`,
	}
	if !loginPasses {
		lines = append(lines, `{"error":{"testID":2,"error":"TimeoutException after 0:00:30.000000: Future not completed","stackTrace":"","isFailure":true}}`)
	}
	lines = append(lines,
		`{"testDone":{"testID":2,"result":"`+result(loginPasses)+`","time":150}}`,
		`{"test":{"id":3,"name":"AuthService logout","suiteID":0,"groupID":1}}`,
		`{"testStart":{"id":3}}`,
	)
	if !logoutPasses {
		lines = append(lines, `{"error":{"testID":3,"error":"NoSuchMethodError: The method 'clear' was called on null.","stackTrace":"#0 AuthService.logout","isFailure":true}}`)
	}
	lines = append(lines,
		`{"testDone":{"testID":3,"result":"`+result(logoutPasses)+`","time":200}}`,
		`{"done":{"success":`+map[bool]string{true: "true", false: "false"}[loginPasses && logoutPasses]+`}}`,
	)
	return strings.Join(lines, "\n") + "\n"
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.InterRunDelay = 0
	cfg.ReportDir = filepath.Join(t.TempDir(), "tests_reports")
	cfg.ModuleName = "auth"
	return cfg
}

func newAnalyzer(t *testing.T, cfg *config.Config, l runner.Launcher, rec *metrics.Recorder) (*Analyzer, *[]Progress) {
	t.Helper()
	log, _ := test.NewNullLogger()
	var progress []Progress
	a, err := New(Options{
		Config:     cfg,
		Launcher:   l,
		Reports:    lifecycle.NewManager(cfg.ReportDir),
		Metrics:    rec,
		Log:        log.WithField("component", "test"),
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	return a, &progress
}

func TestAnalyzeFlakyAndConsistentFailure(t *testing.T) {
	cfg := testConfig(t)
	l := &scriptLauncher{outputs: []string{
		authRun(true, false),
		authRun(false, false),
		authRun(true, false),
	}}
	a, progress := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)

	s := result.Analysis
	assert.Equal(t, 2, s.TotalTests)
	assert.Equal(t, 0, s.PassedConsistently)
	assert.Equal(t, 1, s.ConsistentFailures)
	assert.Equal(t, 1, s.FlakyTests)
	assert.Equal(t, 0.0, s.PassRate)
	assert.Equal(t, 50.0, s.StabilityScore)
	assert.Equal(t, ExitFail, result.ExitCode)
	assert.Equal(t, StateDone, a.State())

	require.Len(t, s.FailingRecords, 2)
	logout := s.FailingRecords[0]
	assert.Equal(t, "logout", logout.Identity.TestName)
	assert.Equal(t, "AuthService", logout.Identity.GroupChain)
	assert.Equal(t, model.CategoryNullReference, logout.Category)
	assert.Equal(t, model.CategoryTimeout, s.FailingRecords[1].Category)

	var states []State
	for _, p := range *progress {
		states = append(states, p.State)
	}
	assert.Equal(t, []State{
		StateRunning, StateRunning, StateRunning, StateRunning,
		StateCorrelating, StateClassifying, StateAggregating, StateReporting, StateDone,
	}, states)
	assert.Equal(t, Progress{State: StateRunning, Run: 3, Runs: 3}, (*progress)[3])

	require.FileExists(t, result.ReportPath)
	require.FileExists(t, result.FailuresPath)
	assert.Contains(t, result.ReportPath, filepath.Join("tests_reports", "tests", "auth_testanalyzer_tests@"))
	assert.Contains(t, result.FailuresPath, filepath.Join("tests_reports", "failures", "auth_testanalyzer_failures@"))

	md, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "test/auth_test.dart::AuthService logout")
	assert.Contains(t, string(md), "## Recommendations")
}

func TestAnalyzeAllPassing(t *testing.T) {
	cfg := testConfig(t)
	l := &scriptLauncher{outputs: []string{authRun(true, true), authRun(true, true), authRun(true, true)}}
	rec := metrics.New()
	cfg.MetricsFile = filepath.Join(t.TempDir(), "analysis.prom")
	a, _ := newAnalyzer(t, cfg, l, rec)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Analysis.PassRate)
	assert.Equal(t, 100.0, result.Analysis.StabilityScore)
	assert.Equal(t, 0, result.Analysis.FlakyTests)
	assert.Equal(t, ExitPass, result.ExitCode)
	assert.Empty(t, result.FailuresPath, "no failures report without failing tests")

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "testanalyzer_pass_rate 100")
	assert.Contains(t, string(data), `testanalyzer_runs_total{status="completed"} 3`)
}

func TestAnalyzeMissingRunnerFails(t *testing.T) {
	cfg := testConfig(t)
	l := &scriptLauncher{startErr: &exec.Error{Name: "dart", Err: exec.ErrNotFound}}
	a, progress := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
	assert.Equal(t, StateFailed, a.State())
	assert.Equal(t, 1, l.calls)
	assert.Equal(t, StateFailed, (*progress)[len(*progress)-1].State)
	assert.NoDirExists(t, cfg.ReportDir, "no report is written")
}

func TestAnalyzeTransientLaunchFailureIsData(t *testing.T) {
	cfg := testConfig(t)
	l := &flakyLauncher{outputs: []string{authRun(true, true), "", authRun(true, true)}, failOn: 2}
	a, _ := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Analysis.RunsRequested)
	assert.Equal(t, 2, result.Analysis.RunsCompleted)
	require.Len(t, result.RunErrors, 1)
	assert.Equal(t, 2, result.RunErrors[0].Run)
	assert.Len(t, result.Document.ExecutionErrors, 1)
	assert.Equal(t, StateDone, a.State())
}

// flakyLauncher fails to start on run failOn and replays outputs otherwise.
type flakyLauncher struct {
	outputs []string
	failOn  int
	calls   int
}

func (l *flakyLauncher) Start(_ context.Context, _ []string, _ string) (runner.Process, error) {
	l.calls++
	if l.calls == l.failOn {
		return nil, errors.New("fork/exec: resource temporarily unavailable")
	}
	return &fakeProcess{out: l.outputs[l.calls-1]}, nil
}

func TestAnalyzeIncompleteRun(t *testing.T) {
	cfg := testConfig(t)
	crashed := strings.Join(strings.Split(authRun(true, true), "\n")[:6], "\n")
	l := &scriptLauncher{outputs: []string{authRun(true, true), crashed, authRun(true, true)}}
	a, _ := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)

	s := result.Analysis
	assert.Equal(t, 2, s.TotalTests)
	assert.Equal(t, 1, s.IncompleteRecords)
	assert.Equal(t, 2, s.PassedConsistently, "a missing observation is not a failure")
	assert.Equal(t, ExitPass, result.ExitCode)
}

func TestAnalyzeCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, _ := newAnalyzer(t, cfg, &scriptLauncher{}, nil)
	_, err := a.Run(ctx, model.ReportTests, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoDirExists(t, cfg.ReportDir)
}

func TestAnalyzeParallelWithoutTestFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parallel = true
	cfg.WorkDir = t.TempDir()
	l := &scriptLauncher{}
	a, progress := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.Error(t, err)
	assert.Nil(t, result)

	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "testGlob", verr.Field)
	assert.Equal(t, StateIdle, a.State())
	assert.Empty(t, *progress)
	assert.Equal(t, 0, l.calls)
}

func TestAnalyzeFailuresReportHoldsFailingTests(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunCount = 2
	cfg.SlowTestThreshold = time.Millisecond
	l := &scriptLauncher{outputs: []string{authRun(true, false), authRun(true, false)}}
	a, _ := newAnalyzer(t, cfg, l, nil)

	result, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.FailuresPath)

	data, err := os.ReadFile(strings.TrimSuffix(result.FailuresPath, ".md") + ".json")
	require.NoError(t, err)
	doc, err := report.ParseJSON(data)
	require.NoError(t, err)

	assert.Equal(t, model.ReportFailures, doc.Type)
	assert.Equal(t, result.Analysis.TotalTests, doc.Analysis.TotalTests)
	require.Len(t, doc.Analysis.FailingRecords, 1)
	assert.Equal(t, "logout", doc.Analysis.FailingRecords[0].Identity.TestName)
	assert.Empty(t, doc.Analysis.SlowTests)
	assert.Nil(t, doc.Coverage)
}

func TestAnalyzeRunsOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunCount = 1
	a, _ := newAnalyzer(t, cfg, &scriptLauncher{outputs: []string{authRun(true, true)}}, nil)

	_, err := a.Run(context.Background(), model.ReportTests, nil)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), model.ReportTests, nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestAnalyzeSuiteReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunCount = 1
	a, _ := newAnalyzer(t, cfg, &scriptLauncher{outputs: []string{authRun(true, true)}}, nil)
	coverage := &model.CoverageSummary{OverallCoverage: 81.5, TotalLines: 200, CoveredLines: 163}

	result, err := a.Run(context.Background(), model.ReportSuite, coverage)
	require.NoError(t, err)

	assert.Contains(t, result.ReportPath, filepath.Join("suite", "auth_testanalyzer_suite@"))
	assert.Equal(t, coverage, result.Document.Coverage)

	md, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "| Overall Coverage | 81.5% | Good |")

	_, err = a.Run(context.Background(), model.ReportType("bogus"), nil)
	assert.Error(t, err)
}

func TestAnalyzeRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunCount = 1
	cfg.KeepCount = 1
	reports := lifecycle.NewManager(cfg.ReportDir)

	for i := 0; i < 3; i++ {
		a, err := New(Options{
			Config:   cfg,
			Launcher: &scriptLauncher{outputs: []string{authRun(true, true)}},
			Reports:  reports,
		})
		require.NoError(t, err)
		_, err = a.Run(context.Background(), model.ReportTests, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(reports.TypeDir(model.ReportTests))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunCount = 0

	_, err := New(Options{Config: cfg})
	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "runCount", verr.Field)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		analysis *model.SuiteAnalysis
		min      float64
		want     int
	}{
		{"all pass", &model.SuiteAnalysis{TotalTests: 3, PassedConsistently: 3, PassRate: 100}, 100, ExitPass},
		{"consistent failure", &model.SuiteAnalysis{TotalTests: 3, PassedConsistently: 2, ConsistentFailures: 1, PassRate: 66.7}, 50, ExitFail},
		{"flaky below threshold", &model.SuiteAnalysis{TotalTests: 4, PassedConsistently: 3, FlakyTests: 1, PassRate: 75}, 100, ExitFail},
		{"flaky above threshold", &model.SuiteAnalysis{TotalTests: 4, PassedConsistently: 3, FlakyTests: 1, PassRate: 75}, 70, ExitPass},
		{"no tests", &model.SuiteAnalysis{}, 0, ExitFail},
		{"nil", nil, 0, ExitFail},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.analysis, tc.min))
		})
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"configured", config.Config{ModuleName: "Auth Service"}, "auth-service"},
		{"single target", config.Config{TargetFiles: []string{"test/payments/checkout_test.dart"}}, "payments-checkout"},
		{"work dir", config.Config{WorkDir: "/home/dev/bin-fo/"}, "bin-fo"},
		{"many targets", config.Config{TargetFiles: []string{"test/a_test.dart", "test/b_test.dart"}}, "root"},
		{"nothing", config.Config{}, "root"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ModuleName(&tc.cfg))
		})
	}
}

func TestProgressString(t *testing.T) {
	assert.Equal(t, "running (run 2/5)", Progress{State: StateRunning, Run: 2, Runs: 5}.String())
	assert.Equal(t, "correlating", Progress{State: StateCorrelating}.String())
}

func TestTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateRunning))
	assert.True(t, canTransition(StateRunning, StateFailed))
	assert.False(t, canTransition(StateReporting, StateFailed), "only running can fail")
	assert.False(t, canTransition(StateDone, StateRunning))
	assert.False(t, canTransition(StateIdle, StateDone))
}
