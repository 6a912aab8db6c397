package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Validation
	ErrInvalid = errors.New("invalid request")

	// AuthZ — NotFound doubles as "not yours" to avoid an existence oracle.
	ErrForbidden = errors.New("not permitted")
	ErrNotFound  = errors.New("not found")

	// Conflict
	ErrConflict = errors.New("conflict")

	// Capacity
	ErrInsufficientCapacity = errors.New("not enough eligible nodes online")

	// Lifecycle race
	ErrAlreadyTerminal = errors.New("task already reached a terminal status")

	// Proof verification
	ErrProofInvalid = errors.New("proof verification failed")

	// Internal
	ErrInternal = errors.New("internal error")
)
