package registry

import (
	"testing"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("store.OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func validInput(nodeID string) RegisterInput {
	return RegisterInput{
		NodeID:       nodeID,
		OwnerID:      "owner-1",
		Region:       "us-east",
		NodeType:     domain.NodeCompute,
		Capabilities: domain.Capabilities{BandwidthMbps: 100, CPUCores: 4, MemoryGB: 8},
	}
}

func TestRegister_RejectsMalformedID(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("has a space")
	if _, err := r.Register(in); err != domain.ErrInvalid {
		t.Errorf("Register() with bad id = %v, want ErrInvalid", err)
	}
}

func TestRegister_RejectsOutOfRangeCapabilities(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	in.Capabilities.BandwidthMbps = 1 // below MinBandwidthMbps
	if _, err := r.Register(in); err != domain.ErrInvalid {
		t.Errorf("Register() with bad bandwidth = %v, want ErrInvalid", err)
	}
}

func TestRegister_DuplicateConflicts(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	if _, err := r.Register(in); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if _, err := r.Register(in); err != domain.ErrConflict {
		t.Errorf("Register() duplicate = %v, want ErrConflict", err)
	}
}

func TestRegister_SetsInitialHealthScore(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	n, err := r.Register(in)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	want := domain.InitialHealthScore(in.Capabilities)
	if n.HealthScore != want {
		t.Errorf("HealthScore = %v, want %v", n.HealthScore, want)
	}
	if n.Status != domain.NodeOnline {
		t.Errorf("Status = %v, want online", n.Status)
	}
}

func TestHeartbeat_WrongOwnerNotFound(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	if _, err := r.Register(in); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if _, err := r.Heartbeat("node-1", "attacker", nil); err != domain.ErrNotFound {
		t.Errorf("Heartbeat() wrong owner = %v, want ErrNotFound", err)
	}
}

func TestHeartbeat_RecomputesHealthScoreFromTelemetry(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	if _, err := r.Register(in); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	n, err := r.Heartbeat("node-1", "owner-1", &Telemetry{LatencyNorm: 1})
	if err != nil {
		t.Fatalf("Heartbeat() error: %v", err)
	}
	// Worst-case latency should lower the score relative to the initial
	// best-case (latency_norm=0) score.
	if n.HealthScore >= domain.InitialHealthScore(in.Capabilities) {
		t.Errorf("HealthScore after worst-latency telemetry = %v, want lower than initial", n.HealthScore)
	}
}

func TestDelete_EvictsFromCacheAndExcludesFromEligible(t *testing.T) {
	r := newTestRegistry(t)
	in := validInput("node-1")
	if _, err := r.Register(in); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Delete("node-1", false); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	nodes, err := r.EligibleNodes(domain.Capabilities{}, false, nil)
	if err != nil {
		t.Fatalf("EligibleNodes() error: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("EligibleNodes() after delete = %d, want 0", len(nodes))
	}
}

func TestSilentNodes_FindsNodesPastCutoff(t *testing.T) {
	r := newTestRegistry(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.WithClock(func() time.Time { return fixed })

	if _, err := r.Register(validInput("node-1")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	cutoff := fixed.Add(1 * time.Minute)
	silent, err := r.SilentNodes(cutoff)
	if err != nil {
		t.Fatalf("SilentNodes() error: %v", err)
	}
	if len(silent) != 1 || silent[0].NodeID != "node-1" {
		t.Errorf("SilentNodes() = %v, want [node-1]", silent)
	}
}
