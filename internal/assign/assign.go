// Package assign selects candidate nodes for a pending task and writes
// task_assignments, grounded on the teacher's
// internal/infra/scheduler/scheduler.go sort-by-score-descending,
// take-top-N pattern — reordered to this spec's
// (health_score desc, registered_at asc) tiebreak, since the ranking
// key here is the registry's intrinsic node health score, not the
// scheduler's per-task weighted match score. The mechanism (rank,
// sort, take top N) is the teacher's; the ranking formula is this
// domain's.
package assign

import (
	"log"
	"time"

	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

// Assigner writes task_assignments for pending tasks against the
// current registry state.
type Assigner struct {
	store    *store.Store
	registry *registry.Registry
	sessions *connect.Manager
	now      func() time.Time
}

// New constructs an Assigner.
func New(s *store.Store, r *registry.Registry, sessions *connect.Manager) *Assigner {
	return &Assigner{store: s, registry: r, sessions: sessions, now: time.Now}
}

// WithClock overrides the assigner's clock, for deterministic tests.
func (a *Assigner) WithClock(now func() time.Time) *Assigner {
	a.now = now
	return a
}

// Assign selects up to task.MinNodes eligible candidates not already
// assigned to the task and writes assignment rows. On inserting at
// least one assignment, transitions the task pending → running.
// Idempotent under the (task_id, node_id) unique constraint: a
// candidate already assigned is simply skipped, never altering task
// status on a failed insert (spec §4.3).
func (a *Assigner) Assign(task domain.Task, policy domain.TaskPolicy) error {
	if policy.CompletionKind == domain.CompletionSession {
		return a.assignConnectOnly(task, policy)
	}

	already, err := a.store.AssignmentsForTask(task.TaskID)
	if err != nil {
		return err
	}
	assigned := make(map[string]bool, len(already))
	active := 0
	for _, x := range already {
		assigned[x.NodeID] = true
		if x.IsActive() && !x.ExecutionStatus.IsTerminal() {
			active++
		}
	}

	candidates, err := a.registry.EligibleNodes(policy.RequiredCapabilities, task.RequireGPU, policy.RequiredNodeTypes)
	if err != nil {
		return err
	}

	need := task.MinNodes - active
	if need <= 0 {
		return nil
	}

	now := a.now()
	written := 0
	for _, n := range candidates {
		if written >= need {
			break
		}
		if assigned[n.NodeID] {
			continue
		}

		err := a.store.InsertAssignment(domain.TaskAssignment{
			TaskID:          task.TaskID,
			NodeID:          n.NodeID,
			ExecutionStatus: domain.ExecAssigned,
			AssignedAt:      now,
		})
		if err == domain.ErrConflict {
			continue // another writer beat us to this (task, node) pair
		}
		if err != nil {
			return err
		}
		written++
		if err := a.store.InsertAuditEvent(domain.AuditEvent{
			OccurredAt: now, ActorID: n.NodeID, Action: "task.assigned",
			SubjectType: "task", SubjectID: task.TaskID,
		}); err != nil {
			log.Printf("[assign] audit task.assigned task=%s node=%s: %v", task.TaskID, n.NodeID, err)
		}
	}

	if written > 0 {
		if err := a.store.TransitionTaskStatus(task.TaskID, domain.TaskRunning, now); err != nil && err != domain.ErrAlreadyTerminal {
			return err
		}
	}
	return nil
}

// assignConnectOnly selects exactly one gateway node and opens its
// ConnectSession atomically alongside the assignment (spec §4.7).
func (a *Assigner) assignConnectOnly(task domain.Task, policy domain.TaskPolicy) error {
	candidates, err := a.registry.EligibleNodes(domain.Capabilities{}, false, policy.RequiredNodeTypes)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return domain.ErrInsufficientCapacity
	}
	gateway := candidates[0]

	now := a.now()
	if err := a.store.InsertAssignment(domain.TaskAssignment{
		TaskID:          task.TaskID,
		NodeID:          gateway.NodeID,
		ExecutionStatus: domain.ExecInProgress,
		AssignedAt:      now,
	}); err != nil {
		if err == domain.ErrConflict {
			return nil // already assigned
		}
		return err
	}

	tunnelProtocol, _ := task.Inputs["tunnel_protocol"].(string)
	if tunnelProtocol == "" {
		tunnelProtocol = "wireguard"
	}
	egressProfile := domain.EgressDirect
	if v, ok := task.Inputs["egress_profile"].(string); ok && v != "" {
		egressProfile = domain.EgressProfile(v)
	}
	destPolicy, _ := task.Inputs["destination_policy_id"].(string)
	bwLimit := policy.RequiredCapabilities.BandwidthMbps

	if _, err := a.sessions.Issue(connect.IssueInput{
		TaskID:              task.TaskID,
		RequesterID:         task.CreatorID,
		NodeID:              gateway.NodeID,
		TunnelProtocol:      tunnelProtocol,
		EgressProfile:       egressProfile,
		DestinationPolicyID: destPolicy,
		BandwidthLimitMbps:  bwLimit,
	}); err != nil {
		return err
	}
	if err := a.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: gateway.NodeID, Action: "task.assigned",
		SubjectType: "task", SubjectID: task.TaskID,
	}); err != nil {
		log.Printf("[assign] audit task.assigned task=%s node=%s: %v", task.TaskID, gateway.NodeID, err)
	}

	if err := a.store.TransitionTaskStatus(task.TaskID, domain.TaskRunning, now); err != nil && err != domain.ErrAlreadyTerminal {
		return err
	}
	return nil
}
