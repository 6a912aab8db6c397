package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/eligibility"
)

type submitTaskRequest struct {
	TaskType            domain.TaskType `json:"task_type"`
	WasmModule          []byte          `json:"wasm_module,omitempty"`
	Inputs              map[string]any  `json:"inputs"`
	MinNodes            int             `json:"min_nodes"`
	MaxExecutionTimeSec int             `json:"max_execution_time_sec"`
	RequireGPU          bool            `json:"require_gpu"`
	RequireProof        bool            `json:"require_proof"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}

	creatorID := callerID(r)
	policy, err := s.gate.Admit(eligibility.SubmissionInput{
		CreatorID:           creatorID,
		TaskType:            req.TaskType,
		WasmModule:          req.WasmModule,
		Inputs:              req.Inputs,
		MinNodes:            req.MinNodes,
		MaxExecutionTimeSec: req.MaxExecutionTimeSec,
		RequireGPU:          req.RequireGPU,
		RequireProof:        req.RequireProof,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	now := s.now()
	task := domain.Task{
		TaskID:              newTaskID(),
		CreatorID:           creatorID,
		TaskType:            req.TaskType,
		Status:              domain.TaskPending,
		WasmModule:          req.WasmModule,
		Inputs:              req.Inputs,
		MinNodes:            req.MinNodes,
		MaxExecutionTimeSec: req.MaxExecutionTimeSec,
		RequireGPU:          req.RequireGPU || policy.RequireGPUDefault,
		RequireProof:        req.RequireProof || policy.ProofRequiredDefault,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if task.Inputs == nil {
		task.Inputs = map[string]any{}
	}

	if err := s.store.InsertTask(task); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: creatorID, Action: "task.submitted",
		SubjectType: "task", SubjectID: task.TaskID,
	}); err != nil {
		log.Printf("[api] audit task.submitted task=%s: %v", task.TaskID, err)
	}

	if err := s.assigner.Assign(task, policy); err != nil {
		writeError(w, err)
		return
	}

	stored, err := s.store.GetTask(task.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// handleListTasks is intentionally not ownership-filtered (see
// handleListNodes): any authenticated caller sees every task.
// Single-row mutations (cancel, submit result) remain ownership-checked.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks("")
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type submitResultRequest struct {
	NodeID string         `json:"node_id"`
	Output map[string]any `json:"output"`
	Proof  *domain.Proof  `json:"proof,omitempty"`
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}

	if err := s.intake.Submit(r.Context(), taskID, req.NodeID, callerID(r), req.Output, req.Proof); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.store.GetTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.store.GetTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.CreatorID != callerID(r) {
		writeError(w, domain.ErrNotFound)
		return
	}

	if err := s.store.FailTask(taskID, "canceled by owner", s.now()); err != nil {
		writeError(w, err)
		return
	}

	assignments, err := s.store.AssignmentsForTask(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range assignments {
		if a.IsActive() {
			if err := s.store.DisconnectAssignment(taskID, a.NodeID, s.now()); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type verifyProofRequest struct {
	Task   domain.Task    `json:"task"`
	Output map[string]any `json:"output"`
	Proof  domain.Proof   `json:"proof"`
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}

	ok, err := s.verifier.Verify(r.Context(), req.Task, req.Output, req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}
