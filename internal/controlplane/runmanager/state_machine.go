package runmanager

var allowedTransitions = map[RunState]map[RunState]struct{}{
	RunStateIdle: {
		RunStateRunning: {},
	},
	RunStateRunning: {
		RunStateFinished: {},
		RunStateFailed:   {},
		RunStateAborted:  {},
	},
	RunStateFinished: {
		RunStateRunning: {},
	},
	RunStateFailed: {
		RunStateRunning: {},
	},
	RunStateAborted: {
		RunStateRunning: {},
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
