package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoTestFiles is returned when parallel mode has nothing to partition.
var ErrNoTestFiles = errors.New("no test files found to partition")

// ExecutionError means a run (or one chunk of a parallel run) produced no
// usable outcome: the process failed to launch, timed out, or died without
// reporting anything. Other runs are unaffected.
type ExecutionError struct {
	Run int
	// Chunk is the 1-based chunk number in parallel mode, 0 otherwise.
	Chunk    int
	Command  []string
	ExitCode int
	TimedOut bool
	// Launch is set when the process never started.
	Launch bool
	Cause  error
}

func (e *ExecutionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %d", e.Run)
	if e.Chunk > 0 {
		fmt.Fprintf(&sb, " chunk %d", e.Chunk)
	}

	switch {
	case e.Launch:
		fmt.Fprintf(&sb, ": failed to launch %q", strings.Join(e.Command, " "))
	case e.TimedOut:
		sb.WriteString(": timed out")
	default:
		fmt.Fprintf(&sb, ": runner exited with code %d", e.ExitCode)
	}

	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
