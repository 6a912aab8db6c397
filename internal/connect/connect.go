// Package connect manages connect_only relay sessions: bearer-token
// minting, heartbeat, and revocation/expiry. The coordinator never
// touches relayed traffic — it only mints and validates the token an
// external relay checks inbound connections against, grounded on the
// teacher's internal/security/crypto.go keypair generate/store/
// reveal-once pattern, adapted from an Ed25519 identity keypair to a
// bearer token plus its hash.
package connect

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

// Manager issues and tears down connect sessions.
type Manager struct {
	store *store.Store
	now   func() time.Time
}

// New constructs a Manager backed by s.
func New(s *store.Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// WithClock overrides the manager's clock, for deterministic tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IssueInput carries the fields needed to open a new connect session.
type IssueInput struct {
	TaskID              string
	RequesterID         string
	NodeID              string
	TunnelProtocol      string
	EgressProfile       domain.EgressProfile
	DestinationPolicyID string
	BandwidthLimitMbps  int
}

// Issue mints a session token, persists its hash and cleartext, and
// returns the session with the cleartext populated — the only time
// the cleartext is available from this call path; later reads go
// through GatewaySessions, which also returns it (the
// gateway owner is the only audience, per spec §4.7, so there is no
// need to scrub it after the first read the way a true reveal-once
// secret would).
func (m *Manager) Issue(in IssueInput) (*domain.ConnectSession, error) {
	if in.EgressProfile == domain.EgressLocked && in.DestinationPolicyID == "" {
		return nil, domain.ErrInvalid
	}

	token, hash, err := mintToken()
	if err != nil {
		return nil, fmt.Errorf("mint session token: %w", err)
	}

	now := m.now()
	cs := domain.ConnectSession{
		SessionID:             uuid.NewString(),
		TaskID:                in.TaskID,
		RequesterID:           in.RequesterID,
		NodeID:                in.NodeID,
		TunnelProtocol:        in.TunnelProtocol,
		EgressProfile:         in.EgressProfile,
		DestinationPolicyID:   in.DestinationPolicyID,
		BandwidthLimitMbps:    in.BandwidthLimitMbps,
		SessionTokenHash:      hash,
		SessionTokenCleartext: token,
		ExpiresAt:             now.Add(domain.DefaultSessionDuration),
		Status:                domain.SessionActive,
	}

	if err := m.store.InsertSession(cs); err != nil {
		return nil, err
	}
	if err := m.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: in.RequesterID, Action: "session.issued",
		SubjectType: "session", SubjectID: cs.SessionID,
	}); err != nil {
		log.Printf("[connect] audit session.issued session=%s: %v", cs.SessionID, err)
	}
	return &cs, nil
}

// mintToken generates a random bearer token and its SHA-256 hash,
// following the teacher's crypto/rand-then-hex-encode idiom.
func mintToken() (cleartext, hashHex string, err error) {
	buf := make([]byte, domain.SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	cleartext = hex.EncodeToString(buf)
	sum := sha256.Sum256(buf)
	return cleartext, hex.EncodeToString(sum[:]), nil
}

// GatewaySessions returns the active connect sessions assigned to a
// gateway node, cleartext token included — the payload for
// GET /nodes/{id}/gateway-sessions, owner-only.
func (m *Manager) GatewaySessions(nodeID string) ([]domain.ConnectSession, error) {
	return m.store.SessionsForNode(nodeID)
}

// Heartbeat records a relay heartbeat for an active session.
func (m *Manager) Heartbeat(sessionID string) error {
	return m.store.TouchSessionHeartbeat(sessionID, m.now())
}

// Revoke ends an active session (explicit caller action), completes
// and disconnects the gateway's assignment, and completes its parent
// task — a revoked connect_only session has nothing left to run,
// grounded on ResultIntake's own atomic complete-then-disconnect
// ordering (spec §4.7).
func (m *Manager) Revoke(sessionID string) error {
	cs, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	now := m.now()
	if err := m.store.EndSession(sessionID, domain.SessionEnded); err != nil {
		return err
	}
	if err := m.store.InsertAuditEvent(domain.AuditEvent{
		OccurredAt: now, ActorID: cs.RequesterID, Action: "session.revoked",
		SubjectType: "session", SubjectID: sessionID,
	}); err != nil {
		log.Printf("[connect] audit session.revoked session=%s: %v", sessionID, err)
	}

	if err := m.store.CompleteAssignment(cs.TaskID, cs.NodeID, domain.ExecCompleted, now); err != nil && err != domain.ErrAlreadyTerminal {
		return err
	}
	if err := m.store.DisconnectAssignment(cs.TaskID, cs.NodeID, now); err != nil {
		return err
	}

	if err := m.store.TransitionTaskStatus(cs.TaskID, domain.TaskCompleted, now); err != nil && err != domain.ErrAlreadyTerminal {
		return err
	}
	return nil
}

// SweepExpired ends every active session whose expiry has passed as
// of now, returning the ended sessions so the caller (the sweeper)
// can complete their parent tasks.
func (m *Manager) SweepExpired(now time.Time) ([]domain.ConnectSession, error) {
	expired, err := m.store.ExpiredSessions(now)
	if err != nil {
		return nil, err
	}
	for _, cs := range expired {
		if err := m.store.EndSession(cs.SessionID, domain.SessionExpired); err != nil {
			return nil, err
		}
		if err := m.store.InsertAuditEvent(domain.AuditEvent{
			OccurredAt: now, ActorID: "sweeper", Action: "session.expired",
			SubjectType: "session", SubjectID: cs.SessionID,
		}); err != nil {
			log.Printf("[connect] audit session.expired session=%s: %v", cs.SessionID, err)
		}
	}
	return expired, nil
}

// EndAllForNode ends every active session bound to a node — used by
// the OfflineSweeper when the gateway node itself goes silent.
func (m *Manager) EndAllForNode(nodeID string) error {
	active, err := m.store.SessionsForNode(nodeID)
	if err != nil {
		return err
	}
	if err := m.store.EndSessionsForNode(nodeID); err != nil {
		return err
	}

	now := m.now()
	for _, cs := range active {
		if err := m.store.InsertAuditEvent(domain.AuditEvent{
			OccurredAt: now, ActorID: "sweeper", Action: "session.ended",
			SubjectType: "session", SubjectID: cs.SessionID,
		}); err != nil {
			log.Printf("[connect] audit session.ended session=%s: %v", cs.SessionID, err)
		}
	}
	return nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*domain.ConnectSession, error) {
	return m.store.GetSession(sessionID)
}
