package lifecycle

// State is one step of the restart workflow. Transitions are strictly
// sequential; StateHealthy and StateUnhealthy are terminal and there is no
// automatic transition back on failure: the operator re-invokes.
type State int

const (
	StateIdle State = iota
	StateCleaning
	StateWaitingForCleanup
	StateStarting
	StateWarmingUp
	StateProbing
	StateHealthy
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCleaning:
		return "CLEANING"
	case StateWaitingForCleanup:
		return "WAITING_FOR_CLEANUP"
	case StateStarting:
		return "STARTING"
	case StateWarmingUp:
		return "WARMING_UP"
	case StateProbing:
		return "PROBING"
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the workflow stops in this state.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateUnhealthy
}
