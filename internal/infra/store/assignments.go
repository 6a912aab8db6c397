package store

import (
	"database/sql"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// InsertAssignment creates a task-node assignment row. Returns
// domain.ErrConflict on a duplicate (task_id, node_id) pair.
func (s *Store) InsertAssignment(a domain.TaskAssignment) error {
	_, err := s.db.Exec(
		`INSERT INTO task_assignments (task_id, node_id, execution_status, assigned_at,
			execution_started_at, execution_completed_at, disconnected_at)
		 VALUES (?, ?, ?, ?, NULL, NULL, NULL)`,
		a.TaskID, a.NodeID, string(a.ExecutionStatus), unix(a.AssignedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetAssignment retrieves a single task-node assignment.
func (s *Store) GetAssignment(taskID, nodeID string) (*domain.TaskAssignment, error) {
	row := s.db.QueryRow(assignmentSelectCols+` FROM task_assignments WHERE task_id = ? AND node_id = ?`, taskID, nodeID)
	return scanAssignment(row)
}

// AssignmentsForTask lists every assignment for a task.
func (s *Store) AssignmentsForTask(taskID string) ([]domain.TaskAssignment, error) {
	rows, err := s.db.Query(assignmentSelectCols+` FROM task_assignments WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ActiveAssignmentsForNode lists a node's assignments that have not
// disconnected, for HeartbeatSync's activity drain (spec §4.4).
func (s *Store) ActiveAssignmentsForNode(nodeID string) ([]domain.TaskAssignment, error) {
	rows, err := s.db.Query(
		assignmentSelectCols+` FROM task_assignments WHERE node_id = ? AND disconnected_at IS NULL`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// BeginExecution transitions an assignment from assigned to
// in_progress, guarded by the monotonic partial order so a stale
// retry can never regress a further-along assignment.
func (s *Store) BeginExecution(taskID, nodeID string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE task_assignments SET execution_status = 'in_progress', execution_started_at = ?
		 WHERE task_id = ? AND node_id = ? AND execution_status = 'assigned'`,
		unix(now), taskID, nodeID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// CompleteAssignment marks a single assignment completed or failed,
// guarded against a terminal assignment ever being overwritten.
func (s *Store) CompleteAssignment(taskID, nodeID string, status domain.ExecutionStatus, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE task_assignments SET execution_status = ?, execution_completed_at = ?
		 WHERE task_id = ? AND node_id = ? AND execution_status NOT IN ('completed', 'failed')`,
		string(status), unix(now), taskID, nodeID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrAlreadyTerminal
	}
	return nil
}

// DisconnectAssignment marks an assignment disconnected (node went
// offline, swept, or revoked) without altering execution_status — the
// sweeper separately fails non-terminal assignments it disconnects.
func (s *Store) DisconnectAssignment(taskID, nodeID string, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE task_assignments SET disconnected_at = ? WHERE task_id = ? AND node_id = ? AND disconnected_at IS NULL`,
		unix(now), taskID, nodeID,
	)
	return err
}

// ActiveAssignmentsForTaskCount counts a task's assignments that are
// neither disconnected nor terminal, used by the disconnect path to
// decide whether a task has any remaining active work.
func (s *Store) ActiveAssignmentsForTaskCount(taskID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_assignments
		 WHERE task_id = ? AND disconnected_at IS NULL AND execution_status NOT IN ('completed', 'failed')`,
		taskID,
	).Scan(&count)
	return count, err
}

// DisconnectAndFailActiveForNode disconnects and fails every
// non-terminal assignment held by a node in one statement, used by the
// OfflineSweeper when a silent node is marked offline. Returns the
// task IDs affected so the caller can reset those tasks to pending.
func (s *Store) DisconnectAndFailActiveForNode(nodeID string, now time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT task_id FROM task_assignments
		 WHERE node_id = ? AND disconnected_at IS NULL AND execution_status NOT IN ('completed', 'failed')`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	var taskIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		taskIDs = append(taskIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		`UPDATE task_assignments SET disconnected_at = ?, execution_status = 'failed'
		 WHERE node_id = ? AND disconnected_at IS NULL AND execution_status NOT IN ('completed', 'failed')`,
		unix(now), nodeID,
	)
	if err != nil {
		return nil, err
	}
	return taskIDs, nil
}

const assignmentSelectCols = `SELECT task_id, node_id, execution_status, assigned_at,
	execution_started_at, execution_completed_at, disconnected_at`

func scanAssignment(s scanner) (*domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	var status string
	var assignedAt int64
	var startedAt, completedAt, disconnectedAt sql.NullInt64

	err := s.Scan(&a.TaskID, &a.NodeID, &status, &assignedAt, &startedAt, &completedAt, &disconnectedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.ExecutionStatus = domain.ExecutionStatus(status)
	a.AssignedAt = time.Unix(assignedAt, 0).UTC()
	a.ExecutionStartedAt = fromUnix(startedAt)
	a.ExecutionCompletedAt = fromUnix(completedAt)
	a.DisconnectedAt = fromUnix(disconnectedAt)
	return &a, nil
}

func scanAssignments(rows *sql.Rows) ([]domain.TaskAssignment, error) {
	var out []domain.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
