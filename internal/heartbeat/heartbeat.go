// Package heartbeat implements HeartbeatSync: liveness update,
// assignment activity registration, and pending-work drain for a
// node's heartbeat ping. Grounded on the teacher's daemon.go
// "best-effort, log and swallow" treatment of secondary failures
// during a hot path, generalized from a single DB touch to the
// multi-step heartbeat transaction this spec calls for.
package heartbeat

import (
	"log"
	"time"

	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

// DefaultDrainCap is HEARTBEAT_DRAIN_CAP's default: the maximum number
// of active assignments a node can reach through heartbeat drains; a
// single heartbeat assigns at most the cap minus the node's current
// active assignments.
const DefaultDrainCap = 8

// Sync drives one node's heartbeat cycle.
type Sync struct {
	store    *store.Store
	registry *registry.Registry
	assigner *assign.Assigner
	policies map[domain.TaskType]domain.TaskPolicy
	drainCap int
	now      func() time.Time
}

// New constructs a Sync. policies is the production TaskPolicy table
// (domain.DefaultPolicies()); drainCap is HEARTBEAT_DRAIN_CAP.
func New(s *store.Store, r *registry.Registry, a *assign.Assigner, policies map[domain.TaskType]domain.TaskPolicy, drainCap int) *Sync {
	if drainCap <= 0 {
		drainCap = DefaultDrainCap
	}
	return &Sync{store: s, registry: r, assigner: a, policies: policies, drainCap: drainCap, now: time.Now}
}

// WithClock overrides Sync's clock, for deterministic tests.
func (sy *Sync) WithClock(now func() time.Time) *Sync {
	sy.now = now
	return sy
}

// Response is the payload HeartbeatSync returns to the node (spec §4.4 step 4).
type Response struct {
	HealthScore      float64           `json:"health_score"`
	NodeStatus       domain.NodeStatus `json:"node_status"`
	ActiveTasks      int               `json:"active_tasks"`
	AssignedTaskIDs  []string          `json:"assigned_task_ids"`
	AssignedTasks    []AssignedTask    `json:"assigned_tasks"`
}

// AssignedTask summarizes one of the node's active assignments.
type AssignedTask struct {
	TaskID          string                 `json:"task_id"`
	TaskType        domain.TaskType        `json:"task_type"`
	ExecutionStatus domain.ExecutionStatus `json:"execution_status"`
}

// Beat runs one heartbeat cycle for nodeID, owned by ownerID, with an
// optional telemetry sample. Returns domain.ErrNotFound for an
// unknown node, wrong owner, or soft-deleted node (spec §7).
func (sy *Sync) Beat(nodeID, ownerID string, telemetry *registry.Telemetry) (*Response, error) {
	node, err := sy.registry.Heartbeat(nodeID, ownerID, telemetry)
	if err != nil {
		return nil, err
	}

	now := sy.now()

	active, err := sy.store.ActiveAssignmentsForNode(nodeID)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.ExecutionStatus == domain.ExecAssigned {
			if err := sy.store.BeginExecution(a.TaskID, nodeID, now); err != nil && err != domain.ErrConflict {
				log.Printf("[heartbeat] begin execution task=%s node=%s: %v", a.TaskID, nodeID, err)
			}
		}
	}

	sy.drain(node, active)

	active, err = sy.store.ActiveAssignmentsForNode(nodeID)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		HealthScore: node.HealthScore,
		NodeStatus:  node.Status,
		ActiveTasks: len(active),
	}
	for _, a := range active {
		task, err := sy.store.GetTask(a.TaskID)
		if err != nil {
			log.Printf("[heartbeat] load task=%s for drain response: %v", a.TaskID, err)
			continue
		}
		resp.AssignedTaskIDs = append(resp.AssignedTaskIDs, a.TaskID)
		resp.AssignedTasks = append(resp.AssignedTasks, AssignedTask{
			TaskID: a.TaskID, TaskType: task.TaskType, ExecutionStatus: a.ExecutionStatus,
		})
	}
	return resp, nil
}

// drain attempts to assign pending tasks the node satisfies, up to
// sy.drainCap minus the node's active assignments (nothing once the
// node already holds sy.drainCap), best-effort — a failure here is logged and swallowed,
// the node simply retries on its next heartbeat (spec §7).
func (sy *Sync) drain(node *domain.Node, active []domain.TaskAssignment) {
	if len(active) >= sy.drainCap {
		return
	}
	budget := sy.drainCap - len(active)

	pending, err := sy.store.ListTasks("")
	if err != nil {
		log.Printf("[heartbeat] drain list tasks node=%s: %v", node.NodeID, err)
		return
	}

	drained := 0
	for _, task := range pending {
		if drained >= budget {
			return
		}
		if task.Status != domain.TaskPending {
			continue
		}
		policy, ok := sy.policies[task.TaskType]
		if !ok || !policy.AcceptsNodeType(node.NodeType) {
			continue
		}
		if !node.Capabilities.Satisfies(policy.RequiredCapabilities, task.RequireGPU) {
			continue
		}

		if err := sy.assigner.Assign(task, policy); err != nil {
			log.Printf("[heartbeat] drain assign task=%s node=%s: %v", task.TaskID, node.NodeID, err)
			continue
		}
		if a, err := sy.store.GetAssignment(task.TaskID, node.NodeID); err == nil && a != nil {
			drained++
		}
	}
}
