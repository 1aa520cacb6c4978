package runmanager

import (
	"fmt"

	"github.com/stormqa/stormqa/internal/types"
)

// Messages of the controller's own validation errors.
const (
	MsgAlreadyRunning = "test already running"
	MsgNotRunning     = "no test running"
)

// NewAlreadyRunningError rejects a start while a run is in progress.
func NewAlreadyRunningError() *types.Error {
	return types.NewValidationError(MsgAlreadyRunning)
}

// NewNotRunningError rejects an abort when nothing is running.
func NewNotRunningError(state RunState) *types.Error {
	return types.NewValidationError(MsgNotRunning, types.Issue{
		Field:   "state",
		Message: fmt.Sprintf("controller is %s", state),
	})
}

// NewInvalidTransitionError reports a transition missing from the table.
func NewInvalidTransitionError(from, to RunState) *types.Error {
	return types.NewValidationError(fmt.Sprintf("invalid state transition from %s to %s", from, to))
}

// IsAlreadyRunning checks if err rejected a start during a run.
func IsAlreadyRunning(err error) bool {
	e := types.AsError(err)
	return e != nil && e.Kind == types.ErrKindValidation && e.Message == MsgAlreadyRunning
}

// IsNotRunning checks if err rejected an abort outside a run.
func IsNotRunning(err error) bool {
	e := types.AsError(err)
	return e != nil && e.Kind == types.ErrKindValidation && e.Message == MsgNotRunning
}
