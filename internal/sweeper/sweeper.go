// Package sweeper implements the OfflineSweeper: a periodic job that
// marks silent nodes offline, tears down their active work, and
// redistributes affected tasks. Grounded on the teacher's
// internal/health/checker.go ticker-in-a-goroutine shape
// (interval field, Run(ctx) loop, ctx.Done()-to-stop).
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
	"github.com/tutu-network/coordinator/internal/resultintake"
)

// DefaultSweepInterval is NODE_OFFLINE_SWEEP_INTERVAL_SECONDS's default.
const DefaultSweepInterval = 60 * time.Second

// DefaultHeartbeatTimeout is NODE_HEARTBEAT_TIMEOUT_MINUTES's default.
const DefaultHeartbeatTimeout = 5 * time.Minute

// Sweeper periodically sweeps silent nodes and expired connect
// sessions.
type Sweeper struct {
	store    *store.Store
	registry *registry.Registry
	intake   *resultintake.Intake
	assigner *assign.Assigner
	sessions *connect.Manager
	policies map[domain.TaskType]domain.TaskPolicy

	interval         time.Duration
	heartbeatTimeout time.Duration
	now              func() time.Time
}

// New constructs a Sweeper with production defaults. Use With* to
// override.
func New(s *store.Store, r *registry.Registry, in *resultintake.Intake, a *assign.Assigner, sessions *connect.Manager, policies map[domain.TaskType]domain.TaskPolicy) *Sweeper {
	return &Sweeper{
		store: s, registry: r, intake: in, assigner: a, sessions: sessions, policies: policies,
		interval: DefaultSweepInterval, heartbeatTimeout: DefaultHeartbeatTimeout, now: time.Now,
	}
}

// WithInterval overrides the sweep period.
func (sw *Sweeper) WithInterval(d time.Duration) *Sweeper {
	sw.interval = d
	return sw
}

// WithHeartbeatTimeout overrides the silence threshold.
func (sw *Sweeper) WithHeartbeatTimeout(d time.Duration) *Sweeper {
	sw.heartbeatTimeout = d
	return sw
}

// WithClock overrides the sweeper's clock, for deterministic tests.
func (sw *Sweeper) WithClock(now func() time.Time) *Sweeper {
	sw.now = now
	return sw
}

// Run starts the sweep loop. Call in a goroutine; returns when ctx is
// canceled.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.runOnce()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.runOnce()
		}
	}
}

func (sw *Sweeper) runOnce() {
	if err := sw.SweepOnce(); err != nil {
		log.Printf("[sweeper] sweep pass: %v", err)
	}
}

// SweepOnce runs a single sweep pass: silent nodes, then expired
// connect sessions. Exported so `coordinatord sweep-once` can invoke
// it outside the ticker loop.
func (sw *Sweeper) SweepOnce() error {
	now := sw.now()
	cutoff := now.Add(-sw.heartbeatTimeout)

	silent, err := sw.registry.SilentNodes(cutoff)
	if err != nil {
		return err
	}

	var toReassign []string
	for _, n := range silent {
		if err := sw.registry.MarkOffline(n.NodeID); err != nil {
			log.Printf("[sweeper] mark offline node=%s: %v", n.NodeID, err)
			continue
		}
		if err := sw.store.InsertAuditEvent(domain.AuditEvent{
			OccurredAt: now, ActorID: "sweeper", Action: "node.swept_offline",
			SubjectType: "node", SubjectID: n.NodeID,
		}); err != nil {
			log.Printf("[sweeper] audit node.swept_offline node=%s: %v", n.NodeID, err)
		}

		taskIDs, err := sw.intake.DisconnectNode(n.NodeID)
		if err != nil {
			log.Printf("[sweeper] disconnect node=%s: %v", n.NodeID, err)
			continue
		}
		toReassign = append(toReassign, taskIDs...)

		if err := sw.sessions.EndAllForNode(n.NodeID); err != nil {
			log.Printf("[sweeper] end sessions node=%s: %v", n.NodeID, err)
		}
		if err := sw.registry.AdjustReputation(n.NodeID, -resultintake.ReputationNudgeDown); err != nil {
			log.Printf("[sweeper] adjust reputation node=%s: %v", n.NodeID, err)
		}
	}

	if len(toReassign) > 0 {
		reassignable := sw.failConnectOnly(toReassign, now)
		if err := sw.intake.ResetTasksToPending(reassignable); err != nil {
			log.Printf("[sweeper] reset tasks to pending: %v", err)
		}
		sw.reassign(reassignable)
	}

	expired, err := sw.sessions.SweepExpired(now)
	if err != nil {
		return err
	}
	for _, cs := range expired {
		if err := sw.store.CompleteAssignment(cs.TaskID, cs.NodeID, domain.ExecCompleted, now); err != nil && err != domain.ErrAlreadyTerminal {
			log.Printf("[sweeper] complete assignment task=%s node=%s on session expiry: %v", cs.TaskID, cs.NodeID, err)
		}
		if err := sw.store.DisconnectAssignment(cs.TaskID, cs.NodeID, now); err != nil {
			log.Printf("[sweeper] disconnect assignment task=%s node=%s on session expiry: %v", cs.TaskID, cs.NodeID, err)
		}
		if err := sw.store.TransitionTaskStatus(cs.TaskID, domain.TaskCompleted, now); err != nil && err != domain.ErrAlreadyTerminal {
			log.Printf("[sweeper] complete task=%s on session expiry: %v", cs.TaskID, err)
		}
	}

	return nil
}

// failConnectOnly splits taskIDs into tasks that fail outright because
// their gateway went offline (connect_only — there is no alternate
// node to resume a live session onto) and every other task, which
// remains eligible for reassignment. Returns the latter.
func (sw *Sweeper) failConnectOnly(taskIDs []string, now time.Time) []string {
	reassignable := taskIDs[:0:0]
	for _, taskID := range taskIDs {
		task, err := sw.store.GetTask(taskID)
		if err != nil {
			log.Printf("[sweeper] load task=%s to classify: %v", taskID, err)
			continue
		}
		policy, ok := sw.policies[task.TaskType]
		if ok && policy.CompletionKind == domain.CompletionSession {
			if err := sw.store.FailTask(taskID, "gateway node went offline", now); err != nil && err != domain.ErrAlreadyTerminal {
				log.Printf("[sweeper] fail connect_only task=%s: %v", taskID, err)
			}
			continue
		}
		reassignable = append(reassignable, taskID)
	}
	return reassignable
}

// reassign invokes the Assigner against the up-to-date registry for
// each task reset to pending. The original submitter is not notified
// (spec §4.6) — this is a best-effort retry, failures are logged.
func (sw *Sweeper) reassign(taskIDs []string) {
	for _, taskID := range taskIDs {
		task, err := sw.store.GetTask(taskID)
		if err != nil {
			log.Printf("[sweeper] load task=%s for reassignment: %v", taskID, err)
			continue
		}
		if task.Status != domain.TaskPending {
			continue
		}
		policy, ok := sw.policies[task.TaskType]
		if !ok {
			continue
		}
		if err := sw.assigner.Assign(*task, policy); err != nil {
			log.Printf("[sweeper] reassign task=%s: %v", taskID, err)
		}
	}
}
