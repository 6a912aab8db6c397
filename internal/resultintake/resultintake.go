// Package resultintake implements ResultIntake (accepting and
// verifying submitted results) and FallbackCompleter (the per-task
// timeout sweep), plus the disconnect paths that end a node's
// involvement in a task without necessarily ending the task.
// Grounded on the teacher's infra/healing.go injectable-clock style
// for the fallback timer sweep, and on infra/finetune/coordinator.go's
// ErrEpochTimeout per-job-timer vocabulary, generalized from a single
// fine-tuning epoch timer to a per-task timer set.
package resultintake

import (
	"context"
	"log"
	"time"

	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

// ReputationNudgeUp/Down are the bounded per-outcome reputation
// adjustments ResultIntake and the sweeper apply.
const (
	ReputationNudgeUp   = 0.01
	ReputationNudgeDown = 0.02
)

// Intake accepts results, verifies proofs, and completes tasks under
// the atomic status guard.
type Intake struct {
	store    *store.Store
	registry *registry.Registry
	verifier domain.ProofVerifier
	policies map[domain.TaskType]domain.TaskPolicy
	now      func() time.Time
}

// New constructs an Intake. verifier may be nil if no task type in
// policies ever sets ProofAllowed.
func New(s *store.Store, r *registry.Registry, verifier domain.ProofVerifier, policies map[domain.TaskType]domain.TaskPolicy) *Intake {
	return &Intake{store: s, registry: r, verifier: verifier, policies: policies, now: time.Now}
}

// WithClock overrides Intake's clock, for deterministic tests.
func (in *Intake) WithClock(now func() time.Time) *Intake {
	in.now = now
	return in
}

// Submit is ResultIntake's entry point: a node reports a result for
// one of its assignments, authenticated as that node's owner.
func (in *Intake) Submit(ctx context.Context, taskID, nodeID, ownerID string, output map[string]any, proof *domain.Proof) error {
	task, err := in.store.GetTask(taskID)
	if err != nil {
		return err
	}
	node, err := in.registry.Get(nodeID)
	if err != nil {
		return err
	}
	if node.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	if task.Status != domain.TaskRunning {
		return domain.ErrAlreadyTerminal
	}

	policy, ok := in.policies[task.TaskType]
	if !ok {
		return domain.ErrInvalid
	}

	if task.RequireProof {
		if proof == nil {
			return domain.ErrInvalid
		}
		if !policy.ProofAllowed || in.verifier == nil {
			return domain.ErrInvalid
		}
		ok, err := in.verifier.Verify(ctx, *task, output, *proof)
		if err != nil || !ok {
			// Task stays running; the node (or another assigned node)
			// may retry submission.
			return domain.ErrProofInvalid
		}
	}

	now := in.now()
	creditsEarned := task.CreditsEarned + 1

	if err := in.store.CompleteTask(taskID, output, creditsEarned, now); err != nil {
		return err
	}
	if err := in.store.CompleteAssignment(taskID, nodeID, domain.ExecCompleted, now); err != nil && err != domain.ErrAlreadyTerminal {
		log.Printf("[resultintake] complete assignment task=%s node=%s: %v", taskID, nodeID, err)
	}
	if err := in.store.DisconnectAssignment(taskID, nodeID, now); err != nil {
		log.Printf("[resultintake] disconnect assignment task=%s node=%s: %v", taskID, nodeID, err)
	}
	if err := in.registry.AdjustReputation(nodeID, ReputationNudgeUp); err != nil {
		log.Printf("[resultintake] adjust reputation node=%s: %v", nodeID, err)
	}

	return in.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: ownerID, Action: "task.completed",
		SubjectType: "task", SubjectID: taskID,
	})
}

// DisconnectNode ends a node's active assignments (owner delete/reject
// path, or the sweeper's silent-node path): each active assignment is
// marked disconnected and failed, never altering a task that already
// reached a terminal status.
func (in *Intake) DisconnectNode(nodeID string) ([]string, error) {
	now := in.now()
	return in.store.DisconnectAndFailActiveForNode(nodeID, now)
}

// ResetTasksToPending moves each task ID in taskIDs that is still
// running with zero remaining active assignments back to pending, so
// the Assigner can pick it up again. Tasks already terminal are left
// untouched by TransitionTaskStatus's guard.
func (in *Intake) ResetTasksToPending(taskIDs []string) error {
	now := in.now()
	for _, taskID := range taskIDs {
		remaining, err := in.store.ActiveAssignmentsForTaskCount(taskID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			continue
		}
		if err := in.store.TransitionTaskStatus(taskID, domain.TaskPending, now); err != nil && err != domain.ErrAlreadyTerminal {
			return err
		}
	}
	return nil
}

// FallbackCompleter sweeps running tasks past their execution ceiling
// and synthesizes completion, or fails the task, per its policy's
// effective fallback behavior.
type FallbackCompleter struct {
	store    *store.Store
	registry *registry.Registry
	sessions *connect.Manager
	policies map[domain.TaskType]domain.TaskPolicy
	now      func() time.Time
}

// NewFallbackCompleter constructs a FallbackCompleter.
func NewFallbackCompleter(s *store.Store, r *registry.Registry, sessions *connect.Manager, policies map[domain.TaskType]domain.TaskPolicy) *FallbackCompleter {
	return &FallbackCompleter{store: s, registry: r, sessions: sessions, policies: policies, now: time.Now}
}

// WithClock overrides the completer's clock, for deterministic tests.
func (fc *FallbackCompleter) WithClock(now func() time.Time) *FallbackCompleter {
	fc.now = now
	return fc
}

// Sweep runs one fallback pass: every running, non-connect_only task
// past its deadline is completed or failed per policy.
func (fc *FallbackCompleter) Sweep() error {
	now := fc.now()
	due, err := fc.store.TasksPastDeadline(now)
	if err != nil {
		return err
	}

	for _, task := range due {
		policy, ok := fc.policies[task.TaskType]
		if !ok || policy.CompletionKind == domain.CompletionSession {
			continue // connect_only completes via session end, not the timer
		}

		fallback := policy.EffectiveFallback(task.RequireProof)
		var action string
		switch fallback {
		case domain.FallbackComplete:
			if err := fc.store.CompleteTask(task.TaskID, map[string]any{"fallback": true}, task.CreditsEarned, now); err != nil && err != domain.ErrAlreadyTerminal {
				log.Printf("[fallback] complete task=%s: %v", task.TaskID, err)
				continue
			}
			action = "task.completed"
		case domain.FallbackFail:
			reason := "execution timed out"
			if task.RequireProof {
				reason = "execution timed out; proof required, none received"
			}
			if err := fc.store.FailTask(task.TaskID, reason, now); err != nil && err != domain.ErrAlreadyTerminal {
				log.Printf("[fallback] fail task=%s: %v", task.TaskID, err)
				continue
			}
			action = "task.failed"
		}

		// Assignments still in_progress are left alone here: per boundary
		// scenario S2, an assignment only leaves in_progress on the node's
		// own next heartbeat or an explicit disconnect, never as a side
		// effect of the task reaching a terminal state by a different
		// path.
		if err := fc.store.InsertAuditEvent(domain.AuditEvent{
			OccurredAt: now, ActorID: "fallback", Action: action,
			SubjectType: "task", SubjectID: task.TaskID,
		}); err != nil {
			log.Printf("[fallback] audit %s task=%s: %v", action, task.TaskID, err)
		}
	}
	return nil
}
