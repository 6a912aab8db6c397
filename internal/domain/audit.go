package domain

import "time"

// AuditEvent is an append-only record of a mutating action. Grounded
// on the teacher's credit-ledger append-only pattern
// (infra/sqlite/phase1.go's InsertLedgerEntry), generalized from
// credits to a generic audit trail — every state-changing path writes
// one (register, submit, assign, result, sweep, connect-session
// lifecycle); heartbeat is excluded as too high-frequency to be worth
// recording.
type AuditEvent struct {
	ID          int64     `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Detail      string    `json:"detail,omitempty"` // JSON-encoded, caller's responsibility
}

// User is the minimal identity record backing owner_id/creator_id/
// requester_id foreign keys. Credential storage (JWT/API-key) is the
// excluded auth collaborator (spec §1) — this is just enough of a user
// record to satisfy referential integrity.
type User struct {
	UserID    string    `json:"user_id"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}
