package store

import (
	"database/sql"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// InsertSession creates a new connect session, cleartext token
// included — the cleartext is persisted and returned again by
// SessionsForNode for the gateway owner, not revealed only once.
func (s *Store) InsertSession(cs domain.ConnectSession) error {
	_, err := s.db.Exec(
		`INSERT INTO connect_sessions (session_id, task_id, requester_id, node_id, tunnel_protocol,
			egress_profile, destination_policy_id, bandwidth_limit_mbps, session_token_hash,
			session_token_cleartext, expires_at, status, last_heartbeat_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		cs.SessionID, cs.TaskID, cs.RequesterID, cs.NodeID, cs.TunnelProtocol,
		string(cs.EgressProfile), cs.DestinationPolicyID, cs.BandwidthLimitMbps, cs.SessionTokenHash,
		cs.SessionTokenCleartext, unix(cs.ExpiresAt), string(cs.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetSession retrieves a connect session by ID.
func (s *Store) GetSession(sessionID string) (*domain.ConnectSession, error) {
	row := s.db.QueryRow(sessionSelectCols+` FROM connect_sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// SessionsForNode lists active sessions bound to a gateway node, for
// the GET /nodes/{id}/gateway-sessions endpoint.
func (s *Store) SessionsForNode(nodeID string) ([]domain.ConnectSession, error) {
	rows, err := s.db.Query(sessionSelectCols+` FROM connect_sessions WHERE node_id = ? AND status = 'active'`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConnectSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

// TouchSessionHeartbeat records a gateway relay heartbeat.
func (s *Store) TouchSessionHeartbeat(sessionID string, now time.Time) error {
	res, err := s.db.Exec(
		`UPDATE connect_sessions SET last_heartbeat_at = ? WHERE session_id = ? AND status = 'active'`,
		unix(now), sessionID,
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

// EndSession transitions a session to ended or expired, guarded so an
// already-terminal session is never reopened.
func (s *Store) EndSession(sessionID string, status domain.SessionStatus) error {
	_, err := s.db.Exec(
		`UPDATE connect_sessions SET status = ? WHERE session_id = ? AND status = 'active'`,
		string(status), sessionID,
	)
	return err
}

// EndSessionsForNode ends every active session bound to a node, used
// by the OfflineSweeper when the gateway node goes silent.
func (s *Store) EndSessionsForNode(nodeID string) error {
	_, err := s.db.Exec(
		`UPDATE connect_sessions SET status = 'ended' WHERE node_id = ? AND status = 'active'`,
		nodeID,
	)
	return err
}

// ExpiredSessions returns active sessions whose expiry has passed, for
// the OfflineSweeper's expiry pass.
func (s *Store) ExpiredSessions(now time.Time) ([]domain.ConnectSession, error) {
	rows, err := s.db.Query(
		sessionSelectCols+` FROM connect_sessions WHERE status = 'active' AND expires_at <= ?`,
		unix(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConnectSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

const sessionSelectCols = `SELECT session_id, task_id, requester_id, node_id, tunnel_protocol,
	egress_profile, destination_policy_id, bandwidth_limit_mbps, session_token_hash,
	session_token_cleartext, expires_at, status, last_heartbeat_at`

func scanSession(s scanner) (*domain.ConnectSession, error) {
	var cs domain.ConnectSession
	var egressProfile, status string
	var expiresAt int64
	var lastHeartbeat sql.NullInt64

	err := s.Scan(&cs.SessionID, &cs.TaskID, &cs.RequesterID, &cs.NodeID, &cs.TunnelProtocol,
		&egressProfile, &cs.DestinationPolicyID, &cs.BandwidthLimitMbps, &cs.SessionTokenHash,
		&cs.SessionTokenCleartext, &expiresAt, &status, &lastHeartbeat)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cs.EgressProfile = domain.EgressProfile(egressProfile)
	cs.Status = domain.SessionStatus(status)
	cs.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	cs.LastHeartbeatAt = fromUnix(lastHeartbeat)
	return &cs, nil
}
