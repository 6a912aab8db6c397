// Package store provides SQLite-based transactional persistence for
// the coordinator: nodes, tasks, task assignments, connect sessions,
// users, and an append-only audit log. Uses WAL mode for concurrent
// reads and crash-safe writes, following the teacher's
// infra/sqlite/db.go layout.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// Store wraps a SQLite connection with WAL mode and migrations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/coordinator.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "coordinator.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; keep one connection so transactions
	// never contend with themselves under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// OpenMemory opens an in-memory database, for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_foreign_keys=on&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close cleanly shuts down the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity.
func (s *Store) Ping() error { return s.db.Ping() }

// migrate runs idempotent schema migrations, following the teacher's
// CREATE TABLE IF NOT EXISTS migration-list idiom (infra/sqlite/db.go).
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT PRIMARY KEY,
			handle     TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id         TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			region          TEXT NOT NULL DEFAULT '',
			node_type       TEXT NOT NULL,
			bandwidth_mbps  INTEGER NOT NULL,
			cpu_cores       INTEGER NOT NULL,
			memory_gb       INTEGER NOT NULL,
			gpu_available   BOOLEAN NOT NULL DEFAULT 0,
			health_score    REAL NOT NULL,
			reputation      REAL NOT NULL DEFAULT 0.5,
			status          TEXT NOT NULL,
			last_heartbeat  INTEGER NOT NULL,
			registered_at   INTEGER NOT NULL,
			deleted_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_owner ON nodes(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status, deleted_at)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id                 TEXT PRIMARY KEY,
			creator_id               TEXT NOT NULL,
			task_type                TEXT NOT NULL,
			status                   TEXT NOT NULL,
			wasm_module              BLOB,
			inputs                   TEXT NOT NULL DEFAULT '{}',
			result                   TEXT,
			min_nodes                INTEGER NOT NULL,
			max_execution_time_sec   INTEGER NOT NULL,
			require_gpu              BOOLEAN NOT NULL DEFAULT 0,
			require_proof            BOOLEAN NOT NULL DEFAULT 0,
			credits_earned           INTEGER NOT NULL DEFAULT 0,
			error                    TEXT,
			created_at               INTEGER NOT NULL,
			updated_at               INTEGER NOT NULL,
			completed_at             INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_creator ON tasks(creator_id)`,
		`CREATE TABLE IF NOT EXISTS task_assignments (
			task_id                  TEXT NOT NULL,
			node_id                  TEXT NOT NULL,
			execution_status         TEXT NOT NULL,
			assigned_at              INTEGER NOT NULL,
			execution_started_at     INTEGER,
			execution_completed_at   INTEGER,
			disconnected_at          INTEGER,
			PRIMARY KEY (task_id, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_node ON task_assignments(node_id, disconnected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_task ON task_assignments(task_id)`,
		`CREATE TABLE IF NOT EXISTS connect_sessions (
			session_id               TEXT PRIMARY KEY,
			task_id                  TEXT NOT NULL,
			requester_id             TEXT NOT NULL,
			node_id                  TEXT NOT NULL,
			tunnel_protocol          TEXT NOT NULL,
			egress_profile           TEXT NOT NULL,
			destination_policy_id    TEXT NOT NULL DEFAULT '',
			bandwidth_limit_mbps     INTEGER NOT NULL,
			session_token_hash       TEXT NOT NULL,
			session_token_cleartext  TEXT NOT NULL,
			expires_at               INTEGER NOT NULL,
			status                   TEXT NOT NULL,
			last_heartbeat_at        INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_node ON connect_sessions(node_id, status)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at  INTEGER NOT NULL,
			actor_id     TEXT NOT NULL,
			action       TEXT NOT NULL,
			subject_type TEXT NOT NULL,
			subject_id   TEXT NOT NULL,
			detail       TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// unix converts a time.Time to its Unix-seconds representation.
func unix(t time.Time) int64 { return t.Unix() }

// nullableUnix converts an optional timestamp pointer to a NULL column value.
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// fromUnix converts a nullable Unix-seconds column back to *time.Time.
func fromUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// isUniqueViolation reports whether err came from a UNIQUE/PRIMARY KEY
// constraint failure. modernc.org/sqlite doesn't expose a typed
// constraint-kind accessor over database/sql, so this matches on the
// driver's message text the way the teacher's insert paths do.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
