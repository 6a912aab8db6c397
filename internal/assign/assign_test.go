package assign

import (
	"testing"
	"time"

	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

func newTestAssigner(t *testing.T) (*Assigner, *store.Store, *registry.Registry) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := registry.New(s)
	sess := connect.New(s)
	return New(s, reg, sess), s, reg
}

func registerNode(t *testing.T, reg *registry.Registry, id string, nodeType domain.NodeType) {
	t.Helper()
	_, err := reg.Register(registry.RegisterInput{
		NodeID: id, OwnerID: "owner-1", NodeType: nodeType,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	})
	if err != nil {
		t.Fatalf("Register(%s) error: %v", id, err)
	}
}

func insertTask(t *testing.T, s *store.Store, id string, minNodes int, taskType domain.TaskType) domain.Task {
	t.Helper()
	now := time.Now().UTC()
	task := domain.Task{
		TaskID: id, CreatorID: "creator-1", TaskType: taskType, Status: domain.TaskPending,
		Inputs: map[string]any{}, MinNodes: minNodes, MaxExecutionTimeSec: 60,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertTask(task); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}
	return task
}

func TestAssign_WritesUpToMinNodesAndMarksRunning(t *testing.T) {
	a, s, reg := newTestAssigner(t)
	registerNode(t, reg, "node-1", domain.NodeCompute)
	registerNode(t, reg, "node-2", domain.NodeCompute)
	registerNode(t, reg, "node-3", domain.NodeCompute)

	task := insertTask(t, s, "task-1", 2, domain.TaskComputation)
	policy := domain.DefaultPolicies()[domain.TaskComputation]

	if err := a.Assign(task, policy); err != nil {
		t.Fatalf("Assign() error: %v", err)
	}

	assignments, err := s.AssignmentsForTask("task-1")
	if err != nil {
		t.Fatalf("AssignmentsForTask() error: %v", err)
	}
	if len(assignments) != 2 {
		t.Errorf("AssignmentsForTask() = %d, want 2", len(assignments))
	}

	got, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if got.Status != domain.TaskRunning {
		t.Errorf("Status = %v, want running", got.Status)
	}
}

func TestAssign_InsufficientCandidatesAssignsPartiallyAndMarksRunning(t *testing.T) {
	a, s, reg := newTestAssigner(t)
	registerNode(t, reg, "node-1", domain.NodeCompute)

	task := insertTask(t, s, "task-1", 3, domain.TaskComputation)
	policy := domain.DefaultPolicies()[domain.TaskComputation]

	if err := a.Assign(task, policy); err != nil {
		t.Fatalf("Assign() error: %v", err)
	}

	assignments, err := s.AssignmentsForTask("task-1")
	if err != nil {
		t.Fatalf("AssignmentsForTask() error: %v", err)
	}
	if len(assignments) != 1 {
		t.Errorf("AssignmentsForTask() = %d, want 1", len(assignments))
	}

	got, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if got.Status != domain.TaskRunning {
		t.Errorf("Status = %v, want running (partial assignment still starts execution)", got.Status)
	}
}

func TestAssign_DoesNotDuplicateExistingAssignment(t *testing.T) {
	a, s, reg := newTestAssigner(t)
	registerNode(t, reg, "node-1", domain.NodeCompute)

	task := insertTask(t, s, "task-1", 1, domain.TaskComputation)
	policy := domain.DefaultPolicies()[domain.TaskComputation]

	if err := a.Assign(task, policy); err != nil {
		t.Fatalf("Assign() first call error: %v", err)
	}
	if err := a.Assign(task, policy); err != nil {
		t.Fatalf("Assign() second call error: %v", err)
	}

	assignments, err := s.AssignmentsForTask("task-1")
	if err != nil {
		t.Fatalf("AssignmentsForTask() error: %v", err)
	}
	if len(assignments) != 1 {
		t.Errorf("AssignmentsForTask() after re-running Assign = %d, want 1", len(assignments))
	}
}

func TestAssign_ConnectOnlySelectsSingleGatewayAndOpensSession(t *testing.T) {
	a, s, reg := newTestAssigner(t)
	registerNode(t, reg, "gw-1", domain.NodeOpenInternet)
	registerNode(t, reg, "gw-2", domain.NodeOpenInternet)

	task := insertTask(t, s, "task-1", 1, domain.TaskConnectOnly)
	policy := domain.DefaultPolicies()[domain.TaskConnectOnly]

	if err := a.Assign(task, policy); err != nil {
		t.Fatalf("Assign() error: %v", err)
	}

	assignments, err := s.AssignmentsForTask("task-1")
	if err != nil {
		t.Fatalf("AssignmentsForTask() error: %v", err)
	}
	if len(assignments) != 1 {
		t.Fatalf("AssignmentsForTask() = %d, want exactly 1 gateway", len(assignments))
	}
	if assignments[0].ExecutionStatus != domain.ExecInProgress {
		t.Errorf("ExecutionStatus = %v, want in_progress", assignments[0].ExecutionStatus)
	}

	sessions, err := s.SessionsForNode(assignments[0].NodeID)
	if err != nil {
		t.Fatalf("SessionsForNode() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].TaskID != "task-1" {
		t.Errorf("SessionsForNode() = %v, want one session for task-1", sessions)
	}
}

func TestAssign_ConnectOnlyNoGatewaysIsInsufficientCapacity(t *testing.T) {
	a, s, _ := newTestAssigner(t)
	task := insertTask(t, s, "task-1", 1, domain.TaskConnectOnly)
	policy := domain.DefaultPolicies()[domain.TaskConnectOnly]

	if err := a.Assign(task, policy); err != domain.ErrInsufficientCapacity {
		t.Errorf("Assign() with no gateways = %v, want ErrInsufficientCapacity", err)
	}
}
