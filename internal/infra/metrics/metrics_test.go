package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNodeMetrics(t *testing.T) {
	NodesRegistered.Add(3)
	NodesOnline.Set(2)
	NodesSwept.Inc()
	NodeHealthScore.WithLabelValues("node-1").Set(87.5)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := gatheredNames(families)

	expected := []string{
		"coordinator_nodes_registered_total",
		"coordinator_nodes_online",
		"coordinator_nodes_swept_total",
		"coordinator_node_health_score",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTaskMetrics(t *testing.T) {
	TasksSubmitted.WithLabelValues("computation").Inc()
	TasksCompleted.WithLabelValues("computation", "result").Inc()
	TasksFailed.WithLabelValues("zk_proof", "proof_invalid").Inc()
	TasksPending.Set(4)
	TasksRunning.Set(2)
	TaskAssignLatency.Observe(0.2)
	TasksReassigned.Inc()

	families, _ := prometheus.DefaultGatherer.Gather()
	names := gatheredNames(families)

	expected := []string{
		"coordinator_tasks_submitted_total",
		"coordinator_tasks_completed_total",
		"coordinator_tasks_failed_total",
		"coordinator_tasks_pending",
		"coordinator_tasks_running",
		"coordinator_task_assign_latency_seconds",
		"coordinator_tasks_reassigned_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAssignmentMetrics(t *testing.T) {
	AssignmentsActive.Set(5)
	AssignmentDuration.WithLabelValues("computation", "completed").Observe(12.5)

	families, _ := prometheus.DefaultGatherer.Gather()
	names := gatheredNames(families)

	if !names["coordinator_assignments_active"] {
		t.Error("coordinator_assignments_active not found")
	}
	if !names["coordinator_assignment_duration_seconds"] {
		t.Error("coordinator_assignment_duration_seconds not found")
	}
}

func TestProofVerificationMetrics(t *testing.T) {
	ProofVerifications.WithLabelValues("valid").Inc()
	ProofVerifications.WithLabelValues("invalid").Inc()
	ProofVerifierCircuitState.Set(0)
	ProofVerifyLatency.Observe(1.2)

	families, _ := prometheus.DefaultGatherer.Gather()
	names := gatheredNames(families)

	expected := []string{
		"coordinator_proof_verifications_total",
		"coordinator_proof_verifier_circuit_state",
		"coordinator_proof_verify_latency_seconds",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestConnectSessionMetrics(t *testing.T) {
	SessionsActive.Set(3)
	SessionsEnded.WithLabelValues("expired").Inc()
	SessionsEnded.WithLabelValues("revoked").Inc()

	families, _ := prometheus.DefaultGatherer.Gather()
	names := gatheredNames(families)

	if !names["coordinator_connect_sessions_active"] {
		t.Error("coordinator_connect_sessions_active not found")
	}
	if !names["coordinator_connect_sessions_ended_total"] {
		t.Error("coordinator_connect_sessions_ended_total not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	count := 0
	for _, f := range families {
		if len(f.GetName()) > len("coordinator_") && f.GetName()[:len("coordinator_")] == "coordinator_" {
			count++
		}
	}
	if count < 12 {
		t.Errorf("expected at least 12 coordinator_ metrics, got %d", count)
	}
}

func TestHeartbeatLatency(t *testing.T) {
	HeartbeatLatency.Observe(0.05)
	HeartbeatLatency.Observe(0.12)

	families, _ := prometheus.DefaultGatherer.Gather()
	if !gatheredNames(families)["coordinator_heartbeat_latency_seconds"] {
		t.Error("coordinator_heartbeat_latency_seconds not found")
	}
}

func gatheredNames(families []*dto.MetricFamily) map[string]bool {
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}
