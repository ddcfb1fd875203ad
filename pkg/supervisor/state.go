package supervisor

// State is the lifecycle position of a supervised process.
type State int

const (
	// Unstarted is the zero state, before launch.
	Unstarted State = iota
	// Starting means the process is running and readiness is pending.
	Starting
	// Ready means the readiness policy resolved.
	Ready
	// Terminated means the process was killed. It is final.
	Terminated
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	switch to {
	case Starting:
		return from == Unstarted
	case Ready:
		return from == Starting
	case Terminated:
		return from == Starting || from == Ready
	}
	return false
}
