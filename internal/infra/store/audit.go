package store

import (
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// InsertAuditEvent appends one audit record. Never updated, never
// deleted — the ledger is the coordinator's record of who did what,
// grounded on the teacher's append-only credit-ledger idiom.
func (s *Store) InsertAuditEvent(e domain.AuditEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (occurred_at, actor_id, action, subject_type, subject_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		unix(e.OccurredAt), e.ActorID, e.Action, e.SubjectType, e.SubjectID, e.Detail,
	)
	return err
}

// AuditEventsForSubject lists audit events for a given subject, most
// recent first.
func (s *Store) AuditEventsForSubject(subjectType, subjectID string) ([]domain.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, occurred_at, actor_id, action, subject_type, subject_id, detail
		 FROM audit_log WHERE subject_type = ? AND subject_id = ? ORDER BY id DESC`,
		subjectType, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var occurredAt int64
		if err := rows.Scan(&e.ID, &occurredAt, &e.ActorID, &e.Action, &e.SubjectType, &e.SubjectID, &e.Detail); err != nil {
			return nil, err
		}
		e.OccurredAt = time.Unix(occurredAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
