package runmanager

var allowedTransitions = map[RunState]map[RunState]struct{}{
	RunStateRunning: {
		RunStateCompleted: {},
		RunStateFailed:    {},
	},
}

// CanTransition reports whether a state transition is valid.
func CanTransition(from, to RunState) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
