package analysis

import "fmt"

// State is a stage of one analysis.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateCorrelating State = "correlating"
	StateClassifying State = "classifying"
	StateAggregating State = "aggregating"
	StateReporting   State = "reporting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// transitions lists the states each state may move to. Failed is only
// reachable while runs execute.
var transitions = map[State][]State{
	StateIdle:        {StateRunning},
	StateRunning:     {StateRunning, StateCorrelating, StateFailed},
	StateCorrelating: {StateClassifying},
	StateClassifying: {StateAggregating},
	StateAggregating: {StateReporting},
	StateReporting:   {StateDone},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Progress is reported on every transition. Run and Runs are set while
// running.
type Progress struct {
	State State
	Run   int
	Runs  int
}

func (p Progress) String() string {
	if p.State == StateRunning && p.Runs > 0 {
		return fmt.Sprintf("%s (run %d/%d)", p.State, p.Run, p.Runs)
	}
	return string(p.State)
}
