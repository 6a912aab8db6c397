package domain

// CompletionKind selects how a task type reaches a terminal state.
// Table-driven per spec §9 — avoids a deep inheritance hierarchy across
// task kinds: the policy record carries everything the rest of the
// coordinator needs to know about a task type's shape.
type CompletionKind string

const (
	// CompletionExecute is the default: a node executes the work and
	// submits a result via ResultIntake (optionally proof-backed).
	CompletionExecute CompletionKind = "execute"

	// CompletionSession completes via a ConnectSession ending
	// (explicit revocation or expiry), not via a submitted result.
	CompletionSession CompletionKind = "session"
)

// FallbackBehavior decides what the FallbackCompleter does when a
// task's execution ceiling elapses with no real result.
type FallbackBehavior string

const (
	// FallbackComplete synthesizes a completion (the spec's original
	// behavior for tasks that don't require a proof).
	FallbackComplete FallbackBehavior = "complete"

	// FallbackFail fails the task instead of fabricating a result.
	// Used for any task type whose completion must be backed by a
	// verifiable proof — see SPEC_FULL.md §9 Open Question decision.
	FallbackFail FallbackBehavior = "fail"
)

// TaskPolicy declares the per-kind limits and behavior TaskPolicy/
// EligibilityGate enforce at submission time (spec §4.2).
type TaskPolicy struct {
	TaskType             TaskType
	MaxPayloadBytes       int
	MaxExecutionTimeSec   int
	AllowWasm             bool
	RequiredCapabilities  Capabilities
	RequireGPUDefault     bool
	ProofRequiredDefault  bool
	ProofAllowed          bool
	CompletionKind        CompletionKind
	FallbackOnTimeout     FallbackBehavior
	// RequiredNodeTypes restricts eligible candidates to these node
	// types when non-empty (e.g. connect_only → {open_internet, any}).
	RequiredNodeTypes []NodeType
}

// AcceptsNodeType reports whether a node of type nt may be assigned
// tasks of this policy's kind.
func (p TaskPolicy) AcceptsNodeType(nt NodeType) bool {
	if len(p.RequiredNodeTypes) == 0 {
		return true
	}
	for _, t := range p.RequiredNodeTypes {
		if t == nt {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the production policy table keyed by task type.
func DefaultPolicies() map[TaskType]TaskPolicy {
	return map[TaskType]TaskPolicy{
		TaskComputation: {
			TaskType:            TaskComputation,
			MaxPayloadBytes:     4 * 1024 * 1024,
			MaxExecutionTimeSec: MaxExecutionTimeSec,
			AllowWasm:           false,
			CompletionKind:      CompletionExecute,
			FallbackOnTimeout:   FallbackComplete,
		},
		TaskWasmExecution: {
			TaskType:            TaskWasmExecution,
			MaxPayloadBytes:     MaxWasmModuleBytes,
			MaxExecutionTimeSec: MaxExecutionTimeSec,
			AllowWasm:           true,
			CompletionKind:      CompletionExecute,
			FallbackOnTimeout:   FallbackComplete,
		},
		TaskFederatedLearning: {
			TaskType:             TaskFederatedLearning,
			MaxPayloadBytes:      8 * 1024 * 1024,
			MaxExecutionTimeSec:  MaxExecutionTimeSec,
			AllowWasm:            false,
			RequiredCapabilities: Capabilities{CPUCores: 2, MemoryGB: 4},
			CompletionKind:       CompletionExecute,
			FallbackOnTimeout:    FallbackComplete,
		},
		TaskZKProof: {
			TaskType:             TaskZKProof,
			MaxPayloadBytes:      4 * 1024 * 1024,
			MaxExecutionTimeSec:  MaxExecutionTimeSec,
			AllowWasm:            false,
			RequiredCapabilities: Capabilities{CPUCores: 4, MemoryGB: 8},
			ProofRequiredDefault: true,
			ProofAllowed:         true,
			CompletionKind:       CompletionExecute,
			// require_proof is true by default for this policy — a
			// synthetic fallback would be a fabricated proof result,
			// so timeouts fail the task instead (decided Open Question).
			FallbackOnTimeout: FallbackFail,
		},
		TaskConnectOnly: {
			TaskType:             TaskConnectOnly,
			MaxPayloadBytes:      64 * 1024,
			MaxExecutionTimeSec:  MaxExecutionTimeSec,
			AllowWasm:            false,
			RequiredNodeTypes:    []NodeType{NodeOpenInternet, NodeAny},
			CompletionKind:       CompletionSession,
			FallbackOnTimeout:    FallbackFail,
		},
	}
}

// EffectiveFallback returns the fallback behavior for a task, honoring
// a per-task require_proof override on top of the policy default: any
// task that actually requires a proof fails on timeout regardless of
// the policy's nominal default, per the Open Question decision.
func (p TaskPolicy) EffectiveFallback(requireProof bool) FallbackBehavior {
	if requireProof {
		return FallbackFail
	}
	return p.FallbackOnTimeout
}
