// Package registry implements the coordinator's view of node state:
// registration against a capability whitelist, heartbeat liveness
// tracking, and soft-deletion. Grounded on the teacher's
// internal/infra/registry/manager.go constructor-plus-CRUD shape,
// generalized from a model registry to a node registry.
package registry

import (
	"log"
	"sync"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

// Registry caches node state in memory over the durable Store, the way
// the teacher's manager caches model metadata: the store is the
// source of truth, the mutex-guarded cache speeds up repeated Get
// lookups without a round trip through SQLite. EligibilityGate counts
// and Assigner candidate queries read straight through to the store.
type Registry struct {
	mu    sync.RWMutex
	store *store.Store
	cache map[string]domain.Node

	now func() time.Time
}

// New constructs a Registry backed by s. now defaults to time.Now;
// tests inject a fixed clock.
func New(s *store.Store) *Registry {
	return &Registry{
		store: s,
		cache: make(map[string]domain.Node),
		now:   time.Now,
	}
}

// WithClock overrides the registry's clock, for deterministic tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Load primes the in-memory cache from the store. Call once at
// startup; the cache is kept in sync incrementally thereafter.
func (r *Registry) Load() error {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		r.cache[n.NodeID] = n
	}
	return nil
}

// RegisterInput carries a registration request's caller-supplied fields.
type RegisterInput struct {
	NodeID       string
	OwnerID      string
	Region       string
	NodeType     domain.NodeType
	Capabilities domain.Capabilities
}

// Register validates and admits a new node. Returns domain.ErrInvalid
// for a malformed ID, unknown node type, or out-of-whitelist
// capability; domain.ErrConflict if the ID is already taken.
func (r *Registry) Register(in RegisterInput) (*domain.Node, error) {
	if in.OwnerID == "" {
		return nil, domain.ErrInvalid
	}
	if !domain.ValidNodeID(in.NodeID) {
		return nil, domain.ErrInvalid
	}
	if !in.NodeType.IsValid() {
		return nil, domain.ErrInvalid
	}
	if err := in.Capabilities.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	n := domain.Node{
		NodeID:        in.NodeID,
		OwnerID:       in.OwnerID,
		Region:        in.Region,
		NodeType:      in.NodeType,
		Capabilities:  in.Capabilities,
		HealthScore:   domain.InitialHealthScore(in.Capabilities),
		Reputation:    domain.DefaultReputation,
		Status:        domain.NodeOnline,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}

	if err := r.store.InsertNode(n); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[n.NodeID] = n
	r.mu.Unlock()

	if err := r.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: in.OwnerID, Action: "node.registered",
		SubjectType: "node", SubjectID: n.NodeID,
	}); err != nil {
		log.Printf("[registry] audit node.registered node=%s: %v", n.NodeID, err)
	}

	return &n, nil
}

// Get returns a node by ID, preferring the cache, falling back to the
// store on a cache miss (e.g. a fresh process that hasn't called Load,
// or a node registered by another coordinator process sharing the
// same store — not a scenario this single-instance design targets,
// but the fallback costs nothing).
func (r *Registry) Get(nodeID string) (*domain.Node, error) {
	r.mu.RLock()
	n, ok := r.cache[nodeID]
	r.mu.RUnlock()
	if ok {
		return &n, nil
	}

	got, err := r.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[nodeID] = *got
	r.mu.Unlock()
	return got, nil
}

// List returns every non-deleted node known to the registry.
func (r *Registry) List() ([]domain.Node, error) {
	return r.store.ListNodes()
}

// Heartbeat records liveness for a node owned by ownerID, optionally
// recomputing the health score from a fresh telemetry sample. Returns
// domain.ErrNotFound for an unknown node, a wrong owner, or a
// soft-deleted node — indistinguishable by design (spec §7: avoids an
// existence oracle).
func (r *Registry) Heartbeat(nodeID, ownerID string, telemetry *Telemetry) (*domain.Node, error) {
	now := r.now()
	if err := r.store.TouchHeartbeat(nodeID, ownerID, now); err != nil {
		return nil, err
	}

	n, err := r.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	if telemetry != nil {
		n.HealthScore = domain.ComputeHealthScore(n.Capabilities, telemetry.LatencyNorm, n.Reputation)
		if err := r.store.UpdateHealthScore(n.NodeID, n.HealthScore, n.Reputation); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.cache[n.NodeID] = *n
	r.mu.Unlock()

	return n, nil
}

// Telemetry is the subset of a heartbeat payload that feeds back into
// the health-score recomputation.
type Telemetry struct {
	// LatencyNorm is a pre-normalized [0,1] observed latency sample.
	LatencyNorm float64
}

// Delete soft-deletes a node (rejected=true marks it 'rejected'
// instead of plain 'offline'/'deleted' housekeeping) and evicts it
// from the cache. Callers are responsible for tearing down the node's
// active assignments and sessions (see internal/resultintake,
// internal/connect) — the registry only owns node state.
func (r *Registry) Delete(nodeID string, rejected bool) error {
	status := domain.NodeOffline
	if rejected {
		status = domain.NodeRejected
	}

	if err := r.store.SoftDeleteNode(nodeID, status, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, nodeID)
	r.mu.Unlock()

	return nil
}

// MarkOffline transitions a node to offline without soft-deleting it —
// used by the OfflineSweeper, which wants the node to remain
// discoverable (it can come back online on its next heartbeat) rather
// than permanently excluded like a Delete.
func (r *Registry) MarkOffline(nodeID string) error {
	if err := r.store.MarkNodeOffline(nodeID); err != nil {
		return err
	}

	r.mu.Lock()
	if n, ok := r.cache[nodeID]; ok {
		n.Status = domain.NodeOffline
		r.cache[nodeID] = n
	}
	r.mu.Unlock()

	return nil
}

// AdjustReputation nudges a node's reputation term after a task
// outcome, clamped to [0,1] by the store. delta is typically small
// (e.g. +0.01 on completion, -0.02 on a sweeper-induced failure).
func (r *Registry) AdjustReputation(nodeID string, delta float64) error {
	if err := r.store.AdjustReputation(nodeID, delta); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, nodeID) // force a refresh on next Get; avoids drifting the cached reputation out of sync
	r.mu.Unlock()

	return nil
}

// EligibleNodes returns online, non-deleted nodes satisfying req,
// ordered by (health_score desc, registered_at asc) — the Assigner's
// candidate order (spec §4.3). Reads straight through to the store:
// the ordering and filter logic already lives in SQL, and duplicating
// it over the cache would only risk drift.
func (r *Registry) EligibleNodes(req domain.Capabilities, requireGPU bool, allowedTypes []domain.NodeType) ([]domain.Node, error) {
	return r.store.EligibleNodes(req, requireGPU, allowedTypes)
}

// CountEligible is EligibleNodes's count-only form, for the
// EligibilityGate.
func (r *Registry) CountEligible(req domain.Capabilities, requireGPU bool, allowedTypes []domain.NodeType) (int, error) {
	return r.store.CountEligibleNodes(req, requireGPU, allowedTypes)
}

// SilentNodes returns online nodes whose last_heartbeat predates
// cutoff, for the OfflineSweeper.
func (r *Registry) SilentNodes(cutoff time.Time) ([]domain.Node, error) {
	return r.store.SilentNodes(cutoff)
}
