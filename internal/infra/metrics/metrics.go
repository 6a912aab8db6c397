// Package metrics provides Prometheus metrics for the coordinator:
// counters, gauges, and histograms for node lifecycle, task lifecycle,
// assignments, connect sessions, and proof verification. Grounded on
// the teacher's infra/metrics/metrics.go promauto-plus-namespace
// layout, rebuilt around the coordinator's own resource set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Nodes ──────────────────────────────────────────────────────────────────

// NodesRegistered tracks total node registrations.
var NodesRegistered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "nodes_registered_total",
	Help:      "Total node registrations accepted.",
})

// NodesOnline tracks currently online nodes.
var NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "nodes_online",
	Help:      "Number of nodes currently online.",
})

// NodesSwept tracks nodes marked offline by the OfflineSweeper for
// missing their heartbeat deadline.
var NodesSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "nodes_swept_total",
	Help:      "Total nodes marked offline by the sweeper for a silent heartbeat.",
})

// NodeHealthScore tracks a node's current composite health score.
var NodeHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "node_health_score",
	Help:      "Current health score per node (0-100).",
}, []string{"node_id"})

// HeartbeatLatency tracks time spent inside one HeartbeatSync.Beat call.
var HeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coordinator",
	Name:      "heartbeat_latency_seconds",
	Help:      "Time spent processing a node heartbeat, including the assignment drain.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksSubmitted tracks task submissions accepted past the EligibilityGate.
var TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "tasks_submitted_total",
	Help:      "Total tasks submitted, by task type.",
}, []string{"task_type"})

// TasksCompleted tracks tasks reaching a completed status, by completion path.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "tasks_completed_total",
	Help:      "Total tasks completed, by task type and completion path.",
}, []string{"task_type", "path"})

// TasksFailed tracks tasks reaching a failed status, by reason.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "tasks_failed_total",
	Help:      "Total tasks failed, by task type and reason.",
}, []string{"task_type", "reason"})

// TasksPending tracks the current pending-task backlog.
var TasksPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "tasks_pending",
	Help:      "Number of tasks currently pending assignment.",
})

// TasksRunning tracks currently executing tasks.
var TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "tasks_running",
	Help:      "Number of tasks currently running.",
})

// TaskAssignLatency tracks time from task submission to its first assignment.
var TaskAssignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coordinator",
	Name:      "task_assign_latency_seconds",
	Help:      "Time from task submission to its first written assignment.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// TasksReassigned tracks tasks reset to pending and redrawn after a node
// went silent mid-execution.
var TasksReassigned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "tasks_reassigned_total",
	Help:      "Total tasks reset to pending and reassigned after their node went silent.",
})

// ─── Assignments ────────────────────────────────────────────────────────────

// AssignmentsActive tracks assignments currently assigned or in_progress.
var AssignmentsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "assignments_active",
	Help:      "Number of assignments currently assigned or in_progress.",
})

// AssignmentDuration tracks time from execution start to completion.
var AssignmentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "coordinator",
	Name:      "assignment_duration_seconds",
	Help:      "Time from an assignment's execution start to its terminal status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"task_type", "outcome"})

// ─── Proof verification ─────────────────────────────────────────────────────

// ProofVerifications tracks verification outcomes.
var ProofVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "proof_verifications_total",
	Help:      "Total proof verification attempts, by outcome (valid, invalid, timeout, circuit_open).",
}, []string{"outcome"})

// ProofVerifierCircuitState tracks the proof verifier breaker's current
// state (0=closed, 1=open, 2=half_open).
var ProofVerifierCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "proof_verifier_circuit_state",
	Help:      "Proof verifier circuit breaker state: 0=closed, 1=open, 2=half_open.",
})

// ProofVerifyLatency tracks wall-clock time spent inside one Verify call.
var ProofVerifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coordinator",
	Name:      "proof_verify_latency_seconds",
	Help:      "Wall-clock time spent in one proof verification call.",
	Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
})

// ─── Connect sessions ───────────────────────────────────────────────────────

// SessionsActive tracks currently active connect sessions.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coordinator",
	Name:      "connect_sessions_active",
	Help:      "Number of currently active connect sessions.",
})

// SessionsEnded tracks sessions ending, by how they ended.
var SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coordinator",
	Name:      "connect_sessions_ended_total",
	Help:      "Total connect sessions ended, by reason (revoked, expired, node_offline).",
}, []string{"reason"})
