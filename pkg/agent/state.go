package agent

// State is a step of the decide/act/observe cycle
type State int

const (
	StateThink State = iota
	StateAct
	StateObserve
	StateTerminate
)

func (s State) String() string {
	switch s {
	case StateThink:
		return "think"
	case StateAct:
		return "act"
	case StateObserve:
		return "observe"
	case StateTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the loop stops in s
func (s State) IsTerminal() bool {
	return s == StateTerminate
}
