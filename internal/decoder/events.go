package decoder

import "github.com/boyarskiy/testanalyzer/internal/model"

// Kind is the discriminator of a decoded event.
type Kind string

const (
	KindSuite        Kind = "suite"
	KindTestStarted  Kind = "testStart"
	KindTestFinished Kind = "testDone"
	KindError        Kind = "error"
	KindGroup        Kind = "group"
	KindDone         Kind = "done"
	KindUnrecognized Kind = "unrecognized"
)

// Event is one decoded protocol event. The set of implementations is closed.
type Event interface {
	Kind() Kind
	event()
}

// Result is the terminal state reported by a testDone event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// SuiteStarted announces a test file.
type SuiteStarted struct {
	ID   int
	Path string
}

// TestStarted announces a test. GroupIDs are ordered outermost first.
type TestStarted struct {
	ID        int
	Name      string
	SuiteID   int
	GroupIDs  []int
	StartTime int64
}

// ErrorReported carries an error raised while a test ran. IsFailure is true
// for assertion failures and false for uncaught exceptions.
type ErrorReported struct {
	TestID     int
	Error      string
	StackTrace string
	IsFailure  bool
}

// GroupReported announces a group of tests.
type GroupReported struct {
	ID        int
	Name      string
	ParentID  *int
	TestCount int
}

// TestFinished reports the end of a test. Identity and Errors are resolved by
// the decoder from earlier events of the same run.
type TestFinished struct {
	TestID     int
	Result     Result
	Hidden     bool
	Skipped    bool
	Identity   model.TestIdentity
	DurationMs int64
	Errors     []ErrorReported
}

// RunDone is the last event of a run.
type RunDone struct {
	Success bool
}

// Unrecognized is a well-formed protocol object with a discriminator this
// decoder does not handle.
type Unrecognized struct {
	Type string
}

func (SuiteStarted) Kind() Kind  { return KindSuite }
func (TestStarted) Kind() Kind   { return KindTestStarted }
func (ErrorReported) Kind() Kind { return KindError }
func (GroupReported) Kind() Kind { return KindGroup }
func (TestFinished) Kind() Kind  { return KindTestFinished }
func (RunDone) Kind() Kind       { return KindDone }
func (Unrecognized) Kind() Kind  { return KindUnrecognized }

func (SuiteStarted) event()  {}
func (TestStarted) event()   {}
func (ErrorReported) event() {}
func (GroupReported) event() {}
func (TestFinished) event()  {}
func (RunDone) event()       {}
func (Unrecognized) event()  {}

// Passed reports whether the test finished successfully.
func (e TestFinished) Passed() bool {
	return e.Result == ResultSuccess
}

// Counted reports whether the test contributes an outcome. Hidden tests are
// synthetic tests the runner uses for loading suites.
func (e TestFinished) Counted() bool {
	return !e.Hidden && !e.Skipped
}

// Outcome converts the finished test into a per-run outcome.
func (e TestFinished) Outcome() model.PerRunOutcome {
	out := model.PerRunOutcome{
		Identity:   e.Identity,
		Passed:     e.Passed(),
		DurationMs: e.DurationMs,
	}
	if len(e.Errors) > 0 {
		msgs := make([]string, 0, len(e.Errors))
		for _, er := range e.Errors {
			msgs = append(msgs, er.Error)
		}
		out.Error = joinNonEmpty(msgs, "\n")
		out.StackTrace = e.Errors[0].StackTrace
	}
	return out
}
