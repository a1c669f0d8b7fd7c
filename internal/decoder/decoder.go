// Package decoder turns the test runner's line-oriented JSON protocol into
// typed events.
//
// The runner may interleave human-readable diagnostics with protocol lines;
// anything that is not a protocol object is skipped and decoding continues.
// A Decoder holds lookup state for exactly one run and must not be shared
// between runs or goroutines.
package decoder

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/boyarskiy/testanalyzer/internal/model"
)

// maxLineSize bounds a single protocol line. Stack traces can be long.
const maxLineSize = 4 * 1024 * 1024

type testInfo struct {
	name      string
	suiteID   int
	groupIDs  []int
	startTime int64
}

type groupInfo struct {
	name     string
	parentID *int
}

// Decoder decodes the lines of one run.
type Decoder struct {
	suites  map[int]string
	tests   map[int]*testInfo
	groups  map[int]*groupInfo
	errors  map[int][]ErrorReported
	skipped int
}

// New creates a decoder with empty per-run state.
func New() *Decoder {
	return &Decoder{
		suites: make(map[int]string),
		tests:  make(map[int]*testInfo),
		groups: make(map[int]*groupInfo),
		errors: make(map[int][]ErrorReported),
	}
}

// Skipped returns how many lines were discarded so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// wireSuite, wireTest and wireGroup mirror the nested objects of the protocol.
type wireSuite struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

type wireTest struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	SuiteID  int    `json:"suiteID"`
	GroupIDs []int  `json:"groupIDs"`
	// GroupID is the single-group shorthand.
	GroupID *int `json:"groupID"`
}

type wireGroup struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ParentID  *int   `json:"parentID"`
	TestCount int    `json:"testCount"`
}

// envelope is the flattened form of both wire shapes.
type envelope struct {
	Type       string     `json:"type"`
	Time       int64      `json:"time"`
	Suite      *wireSuite `json:"suite"`
	Test       *wireTest  `json:"test"`
	Group      *wireGroup `json:"group"`
	TestID     *int       `json:"testID"`
	ID         *int       `json:"id"`
	Result     string     `json:"result"`
	Hidden     bool       `json:"hidden"`
	Skipped    bool       `json:"skipped"`
	Error      string     `json:"error"`
	StackTrace string     `json:"stackTrace"`
	IsFailure  *bool      `json:"isFailure"`
	Success    *bool      `json:"success"`
}

// Decode decodes one line. ok is false when the line is not a protocol event
// or references state this run never announced.
func (d *Decoder) Decode(line string) (ev Event, ok bool) {
	env, ok := parseLine(line)
	if !ok {
		d.skipped++
		return nil, false
	}

	ev, ok = d.apply(env)
	if !ok {
		d.skipped++
	}
	return ev, ok
}

func parseLine(line string) (*envelope, bool) {
	line = strings.TrimSpace(stripansi.Strip(line))
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return nil, false
	}

	if _, typed := fields["type"]; typed {
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil || env.Type == "" {
			return nil, false
		}
		return &env, true
	}

	// Keyed shorthand: {"testStart":{"id":2}}.
	if len(fields) != 1 {
		return nil, false
	}
	for key, payload := range fields {
		env := envelope{Type: key}
		switch key {
		case "suite", "group", "test":
			if err := json.Unmarshal([]byte(`{"`+key+`":`+string(payload)+`}`), &env); err != nil {
				return nil, false
			}
		default:
			if err := json.Unmarshal(payload, &env); err != nil {
				return nil, false
			}
			env.Type = key
		}
		return &env, true
	}
	return nil, false
}

func (d *Decoder) apply(env *envelope) (Event, bool) {
	switch env.Type {
	case "suite":
		if env.Suite == nil {
			return nil, false
		}
		d.suites[env.Suite.ID] = env.Suite.Path
		return SuiteStarted{ID: env.Suite.ID, Path: env.Suite.Path}, true

	case "group":
		if env.Group == nil {
			return nil, false
		}
		d.groups[env.Group.ID] = &groupInfo{name: env.Group.Name, parentID: env.Group.ParentID}
		return GroupReported{
			ID:        env.Group.ID,
			Name:      env.Group.Name,
			ParentID:  env.Group.ParentID,
			TestCount: env.Group.TestCount,
		}, true

	case "test", "testStart":
		return d.applyTestStart(env)

	case "error":
		id, ok := env.testID()
		if !ok {
			return nil, false
		}
		isFailure := true
		if env.IsFailure != nil {
			isFailure = *env.IsFailure
		}
		er := ErrorReported{TestID: id, Error: env.Error, StackTrace: env.StackTrace, IsFailure: isFailure}
		d.errors[id] = append(d.errors[id], er)
		return er, true

	case "testDone":
		return d.applyTestDone(env)

	case "done":
		success := false
		if env.Success != nil {
			success = *env.Success
		}
		return RunDone{Success: success}, true

	case "start", "allSuites", "print", "debug":
		return nil, false

	default:
		return Unrecognized{Type: env.Type}, true
	}
}

func (d *Decoder) applyTestStart(env *envelope) (Event, bool) {
	if env.Test == nil {
		// Shorthand testStart only carries the id of a test announced earlier.
		id, ok := env.testID()
		if !ok {
			return nil, false
		}
		info, known := d.tests[id]
		if !known {
			return nil, false
		}
		info.startTime = env.Time
		return info.started(id), true
	}

	groupIDs := env.Test.GroupIDs
	if len(groupIDs) == 0 && env.Test.GroupID != nil {
		groupIDs = d.groupPath(*env.Test.GroupID)
	}
	info := &testInfo{
		name:      env.Test.Name,
		suiteID:   env.Test.SuiteID,
		groupIDs:  groupIDs,
		startTime: env.Time,
	}
	d.tests[env.Test.ID] = info
	return info.started(env.Test.ID), true
}

func (d *Decoder) applyTestDone(env *envelope) (Event, bool) {
	id, ok := env.testID()
	if !ok {
		return nil, false
	}
	info, known := d.tests[id]
	if !known {
		return nil, false
	}

	duration := env.Time - info.startTime
	if duration < 0 {
		duration = 0
	}

	ev := TestFinished{
		TestID:     id,
		Result:     Result(env.Result),
		Hidden:     env.Hidden,
		Skipped:    env.Skipped,
		Identity:   d.identity(info),
		DurationMs: duration,
		Errors:     d.errors[id],
	}
	delete(d.errors, id)
	return ev, true
}

// identity resolves the suite path, the group chain and the bare test name.
// The runner prefixes nested group names and test names with their parents'
// names, so each level strips the prefix of the level above.
func (d *Decoder) identity(info *testInfo) model.TestIdentity {
	var chain []string
	prefix := ""
	for _, gid := range info.groupIDs {
		g, ok := d.groups[gid]
		if !ok || g.name == "" {
			continue
		}
		chain = append(chain, stripPrefix(g.name, prefix))
		prefix = g.name
	}

	return model.TestIdentity{
		SuitePath:  d.suites[info.suiteID],
		GroupChain: strings.Join(chain, " "),
		TestName:   stripPrefix(info.name, prefix),
	}
}

// groupPath expands a single group id to the full chain via parent links.
func (d *Decoder) groupPath(id int) []int {
	var path []int
	seen := make(map[int]bool)
	for cur := &id; cur != nil && !seen[*cur]; {
		seen[*cur] = true
		path = append([]int{*cur}, path...)
		g, ok := d.groups[*cur]
		if !ok {
			break
		}
		cur = g.parentID
	}
	return path
}

func (info *testInfo) started(id int) TestStarted {
	return TestStarted{
		ID:        id,
		Name:      info.name,
		SuiteID:   info.suiteID,
		GroupIDs:  info.groupIDs,
		StartTime: info.startTime,
	}
}

func (env *envelope) testID() (int, bool) {
	if env.TestID != nil {
		return *env.TestID, true
	}
	if env.ID != nil {
		return *env.ID, true
	}
	return 0, false
}

func stripPrefix(name, prefix string) string {
	if prefix == "" {
		return name
	}
	if trimmed := strings.TrimPrefix(name, prefix+" "); trimmed != name {
		return trimmed
	}
	return name
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// Summary is everything one run's stream yields.
type Summary struct {
	Outcomes []model.PerRunOutcome
	// Success is set when the runner emitted its final done event.
	Success *bool
	Skipped int
	// Unrecognized counts protocol objects with an unknown type.
	Unrecognized int
}

// ReadAll decodes a whole stream with a fresh decoder. Only read errors are
// returned; bad lines are skipped, including lines longer than maxLineSize.
func ReadAll(r io.Reader) (*Summary, error) {
	d := New()
	sum := &Summary{}

	err := readLines(r, maxLineSize, func(line string, tooLong bool) {
		if tooLong {
			d.skipped++
			return
		}
		ev, ok := d.Decode(line)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case TestFinished:
			if e.Counted() {
				sum.Outcomes = append(sum.Outcomes, e.Outcome())
			}
		case RunDone:
			success := e.Success
			sum.Success = &success
		case Unrecognized:
			sum.Unrecognized++
		}
	})
	sum.Skipped = d.Skipped()
	return sum, err
}

// readLines calls fn for every line of r without its line ending. A line
// longer than maxLen is drained and reported with tooLong set instead of its
// content.
func readLines(r io.Reader, maxLen int, fn func(line string, tooLong bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			// Room for a trailing CRLF.
			if len(line)+len(chunk) > maxLen+2 {
				tooLong = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err == nil || tooLong || len(line) > 0 {
			text := strings.TrimRight(string(line), "\r\n")
			if len(text) > maxLen {
				text, tooLong = "", true
			}
			fn(text, tooLong)
		}
		line, tooLong = line[:0], false

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
