package store

import (
	"database/sql"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// UpsertUser inserts a user or is a no-op if the ID already exists —
// owner/creator/requester IDs are caller-supplied and the coordinator
// has no registration flow of its own. No mutating path calls it
// before storing a user ID, and the schema does not require the row.
func (s *Store) UpsertUser(u domain.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, handle, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		u.UserID, u.Handle, unix(u.CreatedAt),
	)
	return err
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(userID string) (*domain.User, error) {
	var u domain.User
	var createdAt int64
	err := s.db.QueryRow(`SELECT user_id, handle, created_at FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Handle, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}
