package domain

import "time"

// ExecutionStatus tracks a single assignment's progress. Monotonic:
// assigned < in_progress < {completed, failed} — never regresses.
type ExecutionStatus string

const (
	ExecAssigned   ExecutionStatus = "assigned"
	ExecInProgress ExecutionStatus = "in_progress"
	ExecCompleted  ExecutionStatus = "completed"
	ExecFailed     ExecutionStatus = "failed"
)

// IsTerminal reports whether s is a final assignment state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// rank gives the partial order assigned(0) < in_progress(1) < terminal(2),
// used to reject any update that would regress an assignment's state.
func (s ExecutionStatus) rank() int {
	switch s {
	case ExecAssigned:
		return 0
	case ExecInProgress:
		return 1
	case ExecCompleted, ExecFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic partial order.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return next.rank() > s.rank()
}

// TaskAssignment is the join row binding one task to one node, carrying
// the per-node execution status. Composite key: (TaskID, NodeID).
type TaskAssignment struct {
	TaskID                string          `json:"task_id"`
	NodeID                string          `json:"node_id"`
	ExecutionStatus       ExecutionStatus `json:"execution_status"`
	AssignedAt            time.Time       `json:"assigned_at"`
	ExecutionStartedAt    *time.Time      `json:"execution_started_at,omitempty"`
	ExecutionCompletedAt  *time.Time      `json:"execution_completed_at,omitempty"`
	DisconnectedAt        *time.Time      `json:"disconnected_at,omitempty"`
}

// IsActive reports whether the assignment is still live (not yet
// disconnected for any reason).
func (a *TaskAssignment) IsActive() bool {
	return a.DisconnectedAt == nil
}
