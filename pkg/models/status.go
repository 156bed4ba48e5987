package models

// ProcessStatus is the per-query lifecycle state. Transitions are monotonic
// and terminal states are final.
type ProcessStatus string

// Process lifecycle states.
const (
	StatusIdle                ProcessStatus = "idle"
	StatusPlanGeneration      ProcessStatus = "plan_generation"
	StatusPlanGenerated       ProcessStatus = "plan_generated"
	StatusRunning             ProcessStatus = "running"
	StatusCompleted           ProcessStatus = "completed"
	StatusCompletedWithErrors ProcessStatus = "completed_with_errors"
	StatusError               ProcessStatus = "error"
	StatusCancelled           ProcessStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ProcessStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusError, StatusCancelled:
		return true
	}
	return false
}

// rank orders the non-terminal states for monotonicity checks.
var rank = map[ProcessStatus]int{
	StatusIdle:           0,
	StatusPlanGeneration: 1,
	StatusPlanGenerated:  2,
	StatusRunning:        3,
}

// CanTransition reports whether moving from one status to another is allowed.
// Terminal states accept no further transitions; non-terminal states only
// move forward or into a terminal state.
func CanTransition(from, to ProcessStatus) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return rank[to] > rank[from]
}
