package store

import (
	"database/sql"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// InsertNode creates a new node record. Returns domain.ErrConflict if
// node_id already exists.
func (s *Store) InsertNode(n domain.Node) error {
	_, err := s.db.Exec(
		`INSERT INTO nodes (node_id, owner_id, region, node_type, bandwidth_mbps, cpu_cores,
			memory_gb, gpu_available, health_score, reputation, status, last_heartbeat, registered_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.NodeID, n.OwnerID, n.Region, string(n.NodeType),
		n.Capabilities.BandwidthMbps, n.Capabilities.CPUCores, n.Capabilities.MemoryGB, n.Capabilities.GPUAvailable,
		n.HealthScore, n.Reputation, string(n.Status), unix(n.LastHeartbeat), unix(n.RegisteredAt),
		nullableUnix(n.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetNode retrieves a node by ID, including soft-deleted ones (callers
// that must exclude deleted nodes check IsDeleted()).
func (s *Store) GetNode(nodeID string) (*domain.Node, error) {
	row := s.db.QueryRow(nodeSelectCols+` FROM nodes WHERE node_id = ?`, nodeID)
	return scanNode(row)
}

// ListNodes returns all non-deleted nodes.
func (s *Store) ListNodes() ([]domain.Node, error) {
	rows, err := s.db.Query(nodeSelectCols + ` FROM nodes WHERE deleted_at IS NULL ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// EligibleNodes returns online, non-deleted nodes matching node type
// and capability requirements, ordered by (health_score DESC,
// registered_at ASC) as the Assigner requires (spec §4.3).
func (s *Store) EligibleNodes(req domain.Capabilities, requireGPU bool, allowedTypes []domain.NodeType) ([]domain.Node, error) {
	query := nodeSelectCols + ` FROM nodes
		WHERE deleted_at IS NULL AND status = 'online'
		  AND bandwidth_mbps >= ? AND cpu_cores >= ? AND memory_gb >= ?`
	args := []any{req.BandwidthMbps, req.CPUCores, req.MemoryGB}
	if requireGPU {
		query += ` AND gpu_available = 1`
	}
	if len(allowedTypes) > 0 {
		placeholders := ""
		for i, t := range allowedTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		query += ` AND node_type IN (` + placeholders + `)`
	}
	query += ` ORDER BY health_score DESC, registered_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// CountEligibleNodes is EligibleNodes's count-only form, used by the
// EligibilityGate so submission never materializes the full candidate
// set just to check a threshold.
func (s *Store) CountEligibleNodes(req domain.Capabilities, requireGPU bool, allowedTypes []domain.NodeType) (int, error) {
	query := `SELECT COUNT(*) FROM nodes
		WHERE deleted_at IS NULL AND status = 'online'
		  AND bandwidth_mbps >= ? AND cpu_cores >= ? AND memory_gb >= ?`
	args := []any{req.BandwidthMbps, req.CPUCores, req.MemoryGB}
	if requireGPU {
		query += ` AND gpu_available = 1`
	}
	if len(allowedTypes) > 0 {
		placeholders := ""
		for i, t := range allowedTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		query += ` AND node_type IN (` + placeholders + `)`
	}

	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// TouchHeartbeat updates last_heartbeat and status='online' for a node
// owned by caller, matching the single-row guard in spec §4.4 step 1.
// Returns domain.ErrNotFound if no row matched (unknown node, wrong
// owner, or soft-deleted — indistinguishable, by design, per spec §7).
func (s *Store) TouchHeartbeat(nodeID, ownerID string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE nodes SET last_heartbeat = ?, status = 'online'
		 WHERE node_id = ? AND owner_id = ? AND deleted_at IS NULL`,
		unix(now), nodeID, ownerID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateHealthScore recomputes and persists a node's health score and
// reputation (HeartbeatSync telemetry recomputation, spec §4.1).
func (s *Store) UpdateHealthScore(nodeID string, healthScore, reputation float64) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET health_score = ?, reputation = ? WHERE node_id = ?`,
		healthScore, reputation, nodeID,
	)
	return err
}

// AdjustReputation nudges a node's reputation by delta, clamped to
// [0, 1], used by ResultIntake and the sweeper to reflect task outcomes.
func (s *Store) AdjustReputation(nodeID string, delta float64) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET reputation = MAX(0.0, MIN(1.0, reputation + ?)) WHERE node_id = ?`,
		delta, nodeID,
	)
	return err
}

// SoftDeleteNode marks a node deleted (or rejected) at now. Idempotent:
// re-deleting an already-deleted node is a no-op success.
func (s *Store) SoftDeleteNode(nodeID string, status domain.NodeStatus, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET deleted_at = ?, status = ? WHERE node_id = ? AND deleted_at IS NULL`,
		unix(now), string(status), nodeID,
	)
	return err
}

// MarkNodeOffline transitions a node to offline status. Idempotent.
func (s *Store) MarkNodeOffline(nodeID string) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET status = 'offline' WHERE node_id = ? AND status = 'online'`,
		nodeID,
	)
	return err
}

// SilentNodes returns online nodes whose last_heartbeat predates cutoff
// — candidates for the OfflineSweeper.
func (s *Store) SilentNodes(cutoff time.Time) ([]domain.Node, error) {
	rows, err := s.db.Query(
		nodeSelectCols+` FROM nodes WHERE status = 'online' AND last_heartbeat < ?`,
		unix(cutoff),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

const nodeSelectCols = `SELECT node_id, owner_id, region, node_type, bandwidth_mbps, cpu_cores,
	memory_gb, gpu_available, health_score, reputation, status, last_heartbeat, registered_at, deleted_at`

func scanNode(s scanner) (*domain.Node, error) {
	var n domain.Node
	var nodeType, status string
	var lastHeartbeat, registeredAt int64
	var deletedAt sql.NullInt64

	err := s.Scan(&n.NodeID, &n.OwnerID, &n.Region, &nodeType,
		&n.Capabilities.BandwidthMbps, &n.Capabilities.CPUCores, &n.Capabilities.MemoryGB, &n.Capabilities.GPUAvailable,
		&n.HealthScore, &n.Reputation, &status, &lastHeartbeat, &registeredAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	n.NodeType = domain.NodeType(nodeType)
	n.Status = domain.NodeStatus(status)
	n.LastHeartbeat = time.Unix(lastHeartbeat, 0).UTC()
	n.RegisteredAt = time.Unix(registeredAt, 0).UTC()
	n.DeletedAt = fromUnix(deletedAt)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]domain.Node, error) {
	var nodes []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}
