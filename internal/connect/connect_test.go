package connect

import (
	"testing"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestIssue_RequiresDestinationPolicyWhenLocked(t *testing.T) {
	m := newTestManager(t)
	in := IssueInput{
		TaskID: "task-1", RequesterID: "req-1", NodeID: "node-1",
		TunnelProtocol: "wireguard", EgressProfile: domain.EgressLocked,
	}
	if _, err := m.Issue(in); err != domain.ErrInvalid {
		t.Errorf("Issue() locked without policy = %v, want ErrInvalid", err)
	}
}

func TestIssue_ReturnsDistinctCleartextTokens(t *testing.T) {
	m := newTestManager(t)
	in := IssueInput{TaskID: "task-1", RequesterID: "req-1", NodeID: "node-1", TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect}

	a, err := m.Issue(in)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	in.TaskID = "task-2"
	b, err := m.Issue(in)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if a.SessionTokenCleartext == "" || a.SessionTokenCleartext == b.SessionTokenCleartext {
		t.Errorf("Issue() tokens not distinct: %q vs %q", a.SessionTokenCleartext, b.SessionTokenCleartext)
	}
	if a.SessionTokenHash == b.SessionTokenHash {
		t.Errorf("Issue() hashes not distinct")
	}
}

func TestGatewaySessions_ExcludesRevoked(t *testing.T) {
	m := newTestManager(t)
	in := IssueInput{TaskID: "task-1", RequesterID: "req-1", NodeID: "node-1", TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect}
	cs, err := m.Issue(in)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := m.Revoke(cs.SessionID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	sessions, err := m.GatewaySessions("node-1")
	if err != nil {
		t.Fatalf("GatewaySessions() error: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("GatewaySessions() after revoke = %d, want 0", len(sessions))
	}
}

// S5: revoking a session completes its parent task.
func TestRevoke_CompletesParentTask(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m := New(s)

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertTask(domain.Task{
		TaskID: "task-1", CreatorID: "req-1", TaskType: domain.TaskConnectOnly, Status: domain.TaskRunning,
		Inputs: map[string]any{}, MinNodes: 1, MaxExecutionTimeSec: 3600,
		CreatedAt: fixed, UpdatedAt: fixed,
	}); err != nil {
		t.Fatalf("InsertTask() error: %v", err)
	}

	cs, err := m.Issue(IssueInput{
		TaskID: "task-1", RequesterID: "req-1", NodeID: "node-1",
		TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect,
	})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := m.Revoke(cs.SessionID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	task, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if task.Status != domain.TaskCompleted {
		t.Errorf("Task status = %v, want completed", task.Status)
	}
}

func TestSweepExpired_EndsOnlyPastExpiry(t *testing.T) {
	m := newTestManager(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return fixed })

	in := IssueInput{TaskID: "task-1", RequesterID: "req-1", NodeID: "node-1", TunnelProtocol: "wireguard", EgressProfile: domain.EgressDirect}
	if _, err := m.Issue(in); err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	expired, err := m.SweepExpired(fixed)
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("SweepExpired() at issue time = %d, want 0", len(expired))
	}

	expired, err = m.SweepExpired(fixed.Add(domain.DefaultSessionDuration + time.Second))
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("SweepExpired() past expiry = %d, want 1", len(expired))
	}

	got, err := m.Get(expired[0].SessionID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.SessionExpired {
		t.Errorf("Status after sweep = %v, want expired", got.Status)
	}
}
