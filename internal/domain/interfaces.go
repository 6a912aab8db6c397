package domain

import "context"

// ─── External Collaborator Interfaces ──────────────────────────────────────
// These interfaces define the boundary between the coordinator core and
// the collaborators explicitly out of scope for this repo (spec §1):
// the ZK proving/verification library and the WASM sandbox runtime. The
// core depends only on these narrow contracts, never on a concrete
// implementation.
//
// Federated learning has no equivalent boundary type here: unlike proof
// verification and wasm module admission, nothing in the coordinator's
// own control flow ever calls into an aggregator — federated_learning
// tasks are dispatched, assigned, and completed identically to any
// other CompletionExecute task type, and gradient aggregation happens
// entirely on the executing nodes before a result ever reaches
// ResultIntake. An interface with no call site would be aspirational,
// so it is not declared (see DESIGN.md).

// Proof is an opaque, collaborator-defined proof payload attached to a
// result submission for tasks with RequireProof set.
type Proof struct {
	Scheme string `json:"scheme"`
	Data   []byte `json:"data"`
}

// ProofVerifier abstracts the external ZK proving/verification library.
type ProofVerifier interface {
	// Verify checks proof against the task's declared inputs and the
	// submitted output. ctx carries the wall-clock verification budget
	// (spec §5) — a verifier that blocks past ctx's deadline must
	// return before the caller's ProofInvalid fallback fires.
	Verify(ctx context.Context, task Task, output map[string]any, proof Proof) (bool, error)
}

// SandboxRunner abstracts the external WASM sandbox runtime. The
// coordinator never executes a wasm_execution task itself — it only
// validates a submitted module at admission time (EligibilityGate,
// spec §4.2) and tracks the assignment lifecycle around whatever the
// sandbox later reports.
type SandboxRunner interface {
	Validate(module []byte) error
}
