package pipeline

import "fmt"

// State is the lifecycle position of a run.
type State string

const (
	StateIngested   State = "INGESTED"
	StateVerifying  State = "VERIFYING"
	StateVerified   State = "VERIFIED"
	StateAnalyzing  State = "ANALYZING"
	StateAnalyzed   State = "ANALYZED"
	StateExplaining State = "EXPLAINING"
	StateExplained  State = "EXPLAINED"
	StateDiffing    State = "DIFFING"
	StateReported   State = "REPORTED"
	StateFailed     State = "FAILED"
)

var transitions = map[State][]State{
	StateIngested:   {StateVerifying},
	StateVerifying:  {StateVerified},
	StateVerified:   {StateAnalyzing},
	StateAnalyzing:  {StateAnalyzed},
	StateAnalyzed:   {StateExplaining},
	StateExplaining: {StateExplained},
	StateExplained:  {StateDiffing, StateReported},
	StateDiffing:    {StateReported},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReported || s == StateFailed
}

// CanTransition reports whether from may move to to. FAILED is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := transitions[st]; ok || st.Terminal() {
		return st, nil
	}
	return "", fmt.Errorf("unknown run state %q", s)
}
