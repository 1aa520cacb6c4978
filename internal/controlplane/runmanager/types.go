package runmanager

// RunState represents the lifecycle state of the controller.
type RunState string

const (
	RunStateIdle     RunState = "idle"
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
	RunStateAborted  RunState = "aborted"
)

// IsTerminal reports whether s ends a run.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateFinished, RunStateFailed, RunStateAborted:
		return true
	}
	return false
}
