package sweeper

import (
	"testing"
	"time"

	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
	"github.com/tutu-network/coordinator/internal/resultintake"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Store, *registry.Registry) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := registry.New(s)
	sess := connect.New(s)
	a := assign.New(s, reg, sess)
	intake := resultintake.New(s, reg, nil, domain.DefaultPolicies())
	sw := New(s, reg, intake, a, sess, domain.DefaultPolicies())
	return sw, s, reg
}

// S3: a silent node's active assignment fails, its task resets to
// pending, and gets reassigned to another eligible node.
func TestSweepOnce_ReassignsTaskFromSilentNode(t *testing.T) {
	sw, s, reg := newTestSweeper(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sw.WithClock(func() time.Time { return fixed })
	reg.WithClock(func() time.Time { return fixed })

	if _, err := reg.Register(registry.RegisterInput{
		NodeID: "silent", OwnerID: "owner-1", NodeType: domain.NodeCompute,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}); err != nil {
		t.Fatalf("Register(silent) error: %v", err)
	}
	if _, err := reg.Register(registry.RegisterInput{
		NodeID: "backup", OwnerID: "owner-2", NodeType: domain.NodeCompute,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}); err != nil {
		t.Fatalf("Register(backup) error: %v", err)
	}

	if err := s.InsertTask(domain.Task{
		TaskID: "task-1", CreatorID: "creator-1", TaskType: domain.TaskComputation, Status: domain.TaskRunning,
		Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 3600,
		CreatedAt: fixed, UpdatedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}
	if err := s.InsertAssignment(domain.TaskAssignment{
		TaskID: "task-1", NodeID: "silent", ExecutionStatus: domain.ExecInProgress, AssignedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertAssignment() error: %v", err)
	}

	// Advance the clock past the heartbeat timeout.
	later := fixed.Add(DefaultHeartbeatTimeout + time.Minute)
	sw.WithClock(func() time.Time { return later })

	// The backup node keeps heartbeating, so it stays eligible.
	reg.WithClock(func() time.Time { return later })
	if _, err := reg.Heartbeat("backup", "owner-2", nil); err != nil {
		t.Fatalf("Heartbeat(backup) error: %v", err)
	}

	if err := sw.SweepOnce(); err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}

	node, err := reg.Get("silent")
	if err != nil {
		t.Fatalf("Get(silent) error: %v", err)
	}
	if node.Status != domain.NodeOffline {
		t.Errorf("silent node status = %v, want offline", node.Status)
	}

	oldAssignment, err := s.GetAssignment("task-1", "silent")
	if err != nil {
		t.Fatalf("GetAssignment(silent) error: %v", err)
	}
	if oldAssignment.ExecutionStatus != domain.ExecFailed || oldAssignment.DisconnectedAt == nil {
		t.Errorf("old assignment = %+v, want failed+disconnected", oldAssignment)
	}

	newAssignment, err := s.GetAssignment("task-1", "backup")
	if err != nil {
		t.Fatalf("GetAssignment(backup) error: %v, want reassignment to backup node", err)
	}
	if newAssignment.ExecutionStatus != domain.ExecAssigned {
		t.Errorf("new assignment status = %v, want assigned", newAssignment.ExecutionStatus)
	}
}

// A connect_only task's gateway node going silent fails the task
// outright rather than reassigning it to a new gateway.
func TestSweepOnce_FailsConnectOnlyTaskWhenGatewaySilent(t *testing.T) {
	sw, s, reg := newTestSweeper(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sw.WithClock(func() time.Time { return fixed })
	reg.WithClock(func() time.Time { return fixed })

	if _, err := reg.Register(registry.RegisterInput{
		NodeID: "gw-1", OwnerID: "owner-1", NodeType: domain.NodeGateway,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}); err != nil {
		t.Fatalf("Register(gw-1) error: %v", err)
	}
	if _, err := reg.Register(registry.RegisterInput{
		NodeID: "gw-2", OwnerID: "owner-2", NodeType: domain.NodeGateway,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}); err != nil {
		t.Fatalf("Register(gw-2) error: %v", err)
	}

	if err := s.InsertTask(domain.Task{
		TaskID: "task-1", CreatorID: "creator-1", TaskType: domain.TaskConnectOnly, Status: domain.TaskRunning,
		Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 3600,
		CreatedAt: fixed, UpdatedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}
	if err := s.InsertAssignment(domain.TaskAssignment{
		TaskID: "task-1", NodeID: "gw-1", ExecutionStatus: domain.ExecInProgress, AssignedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertAssignment() error: %v", err)
	}
	if err := s.InsertSession(domain.ConnectSession{
		SessionID: "sess-1", TaskID: "task-1", RequesterID: "creator-1", NodeID: "gw-1",
		TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect,
		SessionTokenHash: "h", SessionTokenCleartext: "c",
		ExpiresAt: fixed.Add(time.Hour), Status: domain.SessionActive,
	}); err != nil {
		t.Fatalf("InsertSession() error: %v", err)
	}

	later := fixed.Add(DefaultHeartbeatTimeout + time.Minute)
	sw.WithClock(func() time.Time { return later })

	if err := sw.SweepOnce(); err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}

	task, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if task.Status != domain.TaskFailed {
		t.Errorf("Task status = %v, want failed (gateway went silent)", task.Status)
	}

	session, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if session.Status != domain.SessionEnded {
		t.Errorf("Session status = %v, want ended", session.Status)
	}

	if _, err := s.GetAssignment("task-1", "gw-2"); err == nil {
		t.Error("task was reassigned to gw-2, want no reassignment for a failed connect_only task")
	}
}

func TestSweepOnce_OnlineNodeUntouched(t *testing.T) {
	sw, _, reg := newTestSweeper(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.WithClock(func() time.Time { return fixed })
	sw.WithClock(func() time.Time { return fixed })

	if _, err := reg.Register(registry.RegisterInput{
		NodeID: "node-1", OwnerID: "owner-1", NodeType: domain.NodeCompute,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := sw.SweepOnce(); err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}

	node, err := reg.Get("node-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if node.Status != domain.NodeOnline {
		t.Errorf("Status = %v, want online (just registered, not silent)", node.Status)
	}
}

// S5: connect session expiry completes the parent task.
func TestSweepOnce_ExpiredSessionCompletesTask(t *testing.T) {
	sw, s, _ := newTestSweeper(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sw.WithClock(func() time.Time { return fixed })

	if err := s.InsertTask(domain.Task{
		TaskID: "task-1", CreatorID: "creator-1", TaskType: domain.TaskConnectOnly, Status: domain.TaskRunning,
		Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 3600,
		CreatedAt: fixed, UpdatedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}
	if err := s.InsertSession(domain.ConnectSession{
		SessionID: "sess-1", TaskID: "task-1", RequesterID: "creator-1", NodeID: "gw-1",
		TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect,
		SessionTokenHash: "h", SessionTokenCleartext: "c",
		ExpiresAt: fixed.Add(-time.Minute), Status: domain.SessionActive,
	}); err != nil {
		t.Fatalf("InsertSession() error: %v", err)
	}

	if err := sw.SweepOnce(); err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}

	task, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("Task status = %v, want completed", task.Status)
	}

	session, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if session.Status != domain.SessionExpired {
		t.Errorf("Session status = %v, want expired", session.Status)
	}
}
