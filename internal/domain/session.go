package domain

import "time"

// SessionStatus tracks a connect-session's lifecycle.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
	SessionExpired SessionStatus = "expired"
)

// EgressProfile enumerates the relay policies a gateway session can run under.
type EgressProfile string

const (
	EgressDirect  EgressProfile = "direct"
	EgressMetered EgressProfile = "metered"
	EgressLocked  EgressProfile = "locked" // destination_policy_id required
)

// ConnectSession authorizes a data-plane relay through a gateway node,
// for connect_only tasks. The coordinator never touches the relayed
// traffic itself — it only mints and revokes the bearer token the
// external relay validates inbound connections against.
type ConnectSession struct {
	SessionID             string        `json:"session_id"`
	TaskID                string        `json:"task_id"`
	RequesterID           string        `json:"requester_id"`
	NodeID                string        `json:"node_id"`
	TunnelProtocol        string        `json:"tunnel_protocol"`
	EgressProfile         EgressProfile `json:"egress_profile"`
	DestinationPolicyID   string        `json:"destination_policy_id,omitempty"`
	BandwidthLimitMbps    int           `json:"bandwidth_limit_mbps"`
	SessionTokenHash      string        `json:"-"`
	SessionTokenCleartext string        `json:"-"`
	ExpiresAt             time.Time     `json:"expires_at"`
	Status                SessionStatus `json:"status"`
	LastHeartbeatAt       *time.Time    `json:"last_heartbeat_at,omitempty"`
}

// IsExpired reports whether the session has outlived its expiry at now.
func (s *ConnectSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DefaultSessionDuration is how long a freshly minted connect session
// stays valid before it must be renewed or re-issued.
const DefaultSessionDuration = 1 * time.Hour

// SessionTokenBytes is the byte length of a freshly minted bearer token.
const SessionTokenBytes = 32
