// Package eligibility implements the EligibilityGate task submission
// runs through before the Assigner ever sees it: policy lookup,
// structural validation of the request (including a recursive
// descent over the free-form inputs payload), and an eligible-node
// headcount check. Grounded on the teacher's internal/app/tutufile.go
// hand-rolled recursive-descent parser — no JSON-schema library
// appears anywhere in the pack for this shape of validation, so this
// is implemented directly the same way: small functions, early
// returns, no external schema engine.
package eligibility

import (
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
)

// SubmissionInput carries a task submission's caller-supplied fields,
// prior to policy lookup.
type SubmissionInput struct {
	CreatorID           string
	TaskType            domain.TaskType
	WasmModule          []byte
	Inputs              map[string]any
	MinNodes            int
	MaxExecutionTimeSec int
	RequireGPU          bool
	RequireProof        bool
}

// Gate checks a submission against its TaskPolicy and the registry's
// current eligible-node count.
type Gate struct {
	policies map[domain.TaskType]domain.TaskPolicy
	registry *registry.Registry
	sandbox  domain.SandboxRunner
}

// New constructs a Gate over the production policy table.
func New(policies map[domain.TaskType]domain.TaskPolicy, r *registry.Registry) *Gate {
	return &Gate{policies: policies, registry: r}
}

// WithSandbox attaches the external WASM sandbox runtime used to
// validate a submitted module at admission time. Nil (the default) is
// a valid value: a deployment with no sandbox collaborator wired in
// simply skips module validation and leaves it to the executing node,
// the same graceful-absence shape as verify.New(nil, ...).
func (g *Gate) WithSandbox(s domain.SandboxRunner) *Gate {
	g.sandbox = s
	return g
}

// Admit runs the full gate: policy lookup, structural validation,
// eligible-node headcount. Returns the resolved policy so the caller
// (the submission handler) doesn't have to look it up twice.
func (g *Gate) Admit(in SubmissionInput) (domain.TaskPolicy, error) {
	policy, ok := g.policies[in.TaskType]
	if !ok {
		return domain.TaskPolicy{}, domain.ErrInvalid
	}

	if err := validateStructure(in, policy); err != nil {
		return domain.TaskPolicy{}, err
	}
	if len(in.WasmModule) > 0 && g.sandbox != nil {
		if err := g.sandbox.Validate(in.WasmModule); err != nil {
			return domain.TaskPolicy{}, domain.ErrInvalid
		}
	}

	requireGPU := in.RequireGPU || policy.RequireGPUDefault
	count, err := g.registry.CountEligible(policy.RequiredCapabilities, requireGPU, policy.RequiredNodeTypes)
	if err != nil {
		return domain.TaskPolicy{}, err
	}
	if count < in.MinNodes {
		return domain.TaskPolicy{}, domain.ErrInsufficientCapacity
	}

	return policy, nil
}

func validateStructure(in SubmissionInput, policy domain.TaskPolicy) error {
	if in.CreatorID == "" {
		return domain.ErrInvalid
	}
	if in.MinNodes < domain.MinMinNodes || in.MinNodes > domain.MaxMinNodes {
		return domain.ErrInvalid
	}
	if in.MaxExecutionTimeSec < domain.MinExecutionTimeSec || in.MaxExecutionTimeSec > domain.MaxExecutionTimeSec {
		return domain.ErrInvalid
	}
	if len(in.WasmModule) > 0 && !policy.AllowWasm {
		return domain.ErrInvalid
	}
	if len(in.WasmModule) > policy.MaxPayloadBytes {
		return domain.ErrInvalid
	}
	if in.RequireProof && !policy.ProofAllowed {
		return domain.ErrInvalid
	}
	return validateInputs(in.Inputs, 0)
}

// Deep-JSON validation bounds (spec §4.2): depth ≤ 8, ≤ 256 keys per
// object, ≤ 4096 array elements, string values ≤ 64KiB.
const (
	maxDepth           = 8
	maxObjectKeys      = 256
	maxArrayElements   = 4096
	maxStringBytes     = 64 * 1024
)

// validateInputs recursively walks a decoded JSON value, rejecting
// anything past the structural bounds. Mirrors the shape of the
// teacher's line-at-a-time directive parser: one small function per
// value kind, early return on the first violation.
func validateInputs(v any, depth int) error {
	if depth > maxDepth {
		return domain.ErrInvalid
	}
	switch val := v.(type) {
	case map[string]any:
		if len(val) > maxObjectKeys {
			return domain.ErrInvalid
		}
		for _, child := range val {
			if err := validateInputs(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > maxArrayElements {
			return domain.ErrInvalid
		}
		for _, child := range val {
			if err := validateInputs(child, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > maxStringBytes {
			return domain.ErrInvalid
		}
	}
	return nil
}
