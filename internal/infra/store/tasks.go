package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// InsertTask creates a new task record in a single statement.
func (s *Store) InsertTask(t domain.Task) error {
	inputs, err := json.Marshal(t.Inputs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO tasks (task_id, creator_id, task_type, status, wasm_module, inputs, result,
			min_nodes, max_execution_time_sec, require_gpu, require_proof, credits_earned, error,
			created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, 0, NULL, ?, ?, NULL)`,
		t.TaskID, t.CreatorID, string(t.TaskType), string(t.Status), nullableBlob(t.WasmModule), string(inputs),
		t.MinNodes, t.MaxExecutionTimeSec, t.RequireGPU, t.RequireProof,
		unix(t.CreatedAt), unix(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(taskID string) (*domain.Task, error) {
	row := s.db.QueryRow(taskSelectCols+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// ListTasks returns tasks, optionally filtered by creator.
func (s *Store) ListTasks(creatorID string) ([]domain.Task, error) {
	query := taskSelectCols + ` FROM tasks`
	var args []any
	if creatorID != "" {
		query += ` WHERE creator_id = ?`
		args = append(args, creatorID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// TasksPastDeadline returns running tasks whose execution ceiling has
// elapsed, for the FallbackCompleter (spec §4.5).
func (s *Store) TasksPastDeadline(now time.Time) ([]domain.Task, error) {
	rows, err := s.db.Query(
		taskSelectCols+` FROM tasks WHERE status = 'running' AND (created_at + max_execution_time_sec) <= ?`,
		now.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// TransitionTaskStatus moves a task from a known non-terminal status to
// the next status, guarded in a single statement so two racing writers
// can never both win (spec §7's atomic status-guard pattern). Returns
// domain.ErrAlreadyTerminal if the task already reached a terminal
// state by the time this statement runs.
func (s *Store) TransitionTaskStatus(taskID string, next domain.TaskStatus, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, updated_at = ?
		 WHERE task_id = ? AND status NOT IN ('completed', 'failed')`,
		string(next), unix(now), taskID,
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

// CompleteTask atomically finishes a task with a result payload,
// guarded the same way TransitionTaskStatus is.
func (s *Store) CompleteTask(taskID string, result map[string]any, creditsEarned int64, now time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE tasks SET status = 'completed', result = ?, credits_earned = ?, updated_at = ?, completed_at = ?
		 WHERE task_id = ? AND status NOT IN ('completed', 'failed')`,
		string(resultJSON), creditsEarned, unix(now), unix(now), taskID,
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

// FailTask atomically fails a task with an error message, guarded the
// same way TransitionTaskStatus is.
func (s *Store) FailTask(taskID, reason string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = 'failed', error = ?, updated_at = ?, completed_at = ?
		 WHERE task_id = ? AND status NOT IN ('completed', 'failed')`,
		reason, unix(now), unix(now), taskID,
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

const taskSelectCols = `SELECT task_id, creator_id, task_type, status, wasm_module, inputs, result,
	min_nodes, max_execution_time_sec, require_gpu, require_proof, credits_earned, error,
	created_at, updated_at, completed_at`

func scanTask(s scanner) (*domain.Task, error) {
	var t domain.Task
	var taskType, status string
	var wasmModule []byte
	var inputsJSON string
	var resultJSON sql.NullString
	var errMsg sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := s.Scan(&t.TaskID, &t.CreatorID, &taskType, &status, &wasmModule, &inputsJSON, &resultJSON,
		&t.MinNodes, &t.MaxExecutionTimeSec, &t.RequireGPU, &t.RequireProof, &t.CreditsEarned, &errMsg,
		&createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.TaskType = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	t.WasmModule = wasmModule
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	t.CompletedAt = fromUnix(completedAt)
	t.Error = errMsg.String

	if err := json.Unmarshal([]byte(inputsJSON), &t.Inputs); err != nil {
		return nil, err
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &t.Result); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
