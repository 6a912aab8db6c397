package heartbeat

import (
	"testing"
	"time"

	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

func newTestSync(t *testing.T, drainCap int) (*Sync, *store.Store, *registry.Registry) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := registry.New(s)
	a := assign.New(s, reg, connect.New(s))
	return New(s, reg, a, domain.DefaultPolicies(), drainCap), s, reg
}

func mustRegister(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	_, err := reg.Register(registry.RegisterInput{
		NodeID: id, OwnerID: "owner-1", NodeType: domain.NodeCompute,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	})
	if err != nil {
		t.Fatalf("Register(%s) error: %v", id, err)
	}
}

func TestBeat_WrongOwnerNotFound(t *testing.T) {
	sy, _, reg := newTestSync(t, DefaultDrainCap)
	mustRegister(t, reg, "node-1")

	if _, err := sy.Beat("node-1", "attacker", nil); err != domain.ErrNotFound {
		t.Errorf("Beat() wrong owner = %v, want ErrNotFound", err)
	}
}

func TestBeat_PromotesAssignedToInProgress(t *testing.T) {
	sy, s, reg := newTestSync(t, DefaultDrainCap)
	mustRegister(t, reg, "node-1")

	now := time.Now()
	if err := s.InsertAssignment(domain.TaskAssignment{
		TaskID: "task-1", NodeID: "node-1", ExecutionStatus: domain.ExecAssigned, AssignedAt: now,
	}); err != nil {
		t.Fatalf("InsertAssignment() error: %v", err)
	}

	resp, err := sy.Beat("node-1", "owner-1", nil)
	if err != nil {
		t.Fatalf("Beat() error: %v", err)
	}
	if resp.ActiveTasks != 1 {
		t.Errorf("ActiveTasks = %d, want 1", resp.ActiveTasks)
	}

	a, err := s.GetAssignment("task-1", "node-1")
	if err != nil {
		t.Fatalf("GetAssignment() error: %v", err)
	}
	if a.ExecutionStatus != domain.ExecInProgress {
		t.Errorf("ExecutionStatus = %v, want in_progress", a.ExecutionStatus)
	}
}

func TestBeat_DrainsPendingTaskUpToCap(t *testing.T) {
	sy, s, reg := newTestSync(t, 1)
	mustRegister(t, reg, "node-1")

	now := time.Now().UTC()
	for _, id := range []string{"task-1", "task-2"} {
		if err := s.InsertTask(domain.Task{
			TaskID: id, CreatorID: "creator-1", TaskType: domain.TaskComputation, Status: domain.TaskPending,
			Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 60, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("InsertTask(%s) error: %v", id, err)
		}
	}

	resp, err := sy.Beat("node-1", "owner-1", nil)
	if err != nil {
		t.Fatalf("Beat() error: %v", err)
	}
	if resp.ActiveTasks != 1 {
		t.Errorf("ActiveTasks after drain with cap=1 = %d, want 1", resp.ActiveTasks)
	}
}

func TestBeat_SkipsTasksNodeTypeDoesNotAccept(t *testing.T) {
	sy, s, reg := newTestSync(t, DefaultDrainCap)
	mustRegister(t, reg, "node-1") // plain compute node

	now := time.Now().UTC()
	if err := s.InsertTask(domain.Task{
		TaskID: "task-1", CreatorID: "creator-1", TaskType: domain.TaskConnectOnly, Status: domain.TaskPending,
		Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 60, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}

	resp, err := sy.Beat("node-1", "owner-1", nil)
	if err != nil {
		t.Fatalf("Beat() error: %v", err)
	}
	if resp.ActiveTasks != 0 {
		t.Errorf("ActiveTasks = %d, want 0 (connect_only requires open_internet/any node type)", resp.ActiveTasks)
	}
}
