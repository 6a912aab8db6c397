// Package domain holds the coordinator's core types: nodes, tasks,
// assignments, and connect sessions. Pure Go — no infrastructure
// dependency, so the rest of the coordinator can depend on it without
// pulling in sqlite, chi, or any other concrete collaborator.
package domain

import (
	"regexp"
	"time"
)

// NodeType classifies what a node offers the network.
type NodeType string

const (
	NodeCompute      NodeType = "compute"
	NodeGateway      NodeType = "gateway"
	NodeStorage      NodeType = "storage"
	NodeValidator    NodeType = "validator"
	NodeOpenInternet NodeType = "open_internet"
	NodeAny          NodeType = "any"
)

// IsValid reports whether t is a recognized node type.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeCompute, NodeGateway, NodeStorage, NodeValidator, NodeOpenInternet, NodeAny:
		return true
	}
	return false
}

// NodeStatus tracks a node's liveness state.
type NodeStatus string

const (
	NodeOnline   NodeStatus = "online"
	NodeOffline  NodeStatus = "offline"
	NodeRejected NodeStatus = "rejected"
)

// nodeIDPattern enforces "opaque string, unique, ≤64 chars, alphanumeric/-_".
var nodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidNodeID reports whether id satisfies the node-id format constraint.
func ValidNodeID(id string) bool {
	return nodeIDPattern.MatchString(id)
}

// Capabilities describes what a node claims it can do. Ranges are
// enforced by the capability whitelist at registration time.
type Capabilities struct {
	BandwidthMbps int  `json:"bandwidth_mbps"`
	CPUCores      int  `json:"cpu_cores"`
	MemoryGB      int  `json:"memory_gb"`
	GPUAvailable  bool `json:"gpu_available"`
}

// Capability whitelist bounds (spec §3).
const (
	MinBandwidthMbps = 10
	MaxBandwidthMbps = 100_000
	MinCPUCores      = 1
	MaxCPUCores      = 256
	MinMemoryGB      = 1
	MaxMemoryGB      = 2048
)

// Validate checks c against the capability whitelist ranges.
func (c Capabilities) Validate() error {
	if c.BandwidthMbps < MinBandwidthMbps || c.BandwidthMbps > MaxBandwidthMbps {
		return ErrInvalid
	}
	if c.CPUCores < MinCPUCores || c.CPUCores > MaxCPUCores {
		return ErrInvalid
	}
	if c.MemoryGB < MinMemoryGB || c.MemoryGB > MaxMemoryGB {
		return ErrInvalid
	}
	return nil
}

// Satisfies reports whether c meets the minimum capability requirements req.
func (c Capabilities) Satisfies(req Capabilities, requireGPU bool) bool {
	if c.BandwidthMbps < req.BandwidthMbps {
		return false
	}
	if c.CPUCores < req.CPUCores {
		return false
	}
	if c.MemoryGB < req.MemoryGB {
		return false
	}
	if requireGPU && !c.GPUAvailable {
		return false
	}
	return true
}

// Node is a worker in the coordinator's fleet.
type Node struct {
	NodeID        string       `json:"node_id"`
	OwnerID       string       `json:"owner_id"`
	Region        string       `json:"region"`
	NodeType      NodeType     `json:"node_type"`
	Capabilities  Capabilities `json:"capabilities"`
	HealthScore   float64      `json:"health_score"`
	Reputation    float64      `json:"reputation"`
	Status        NodeStatus   `json:"status"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	RegisteredAt  time.Time    `json:"registered_at"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the node has been soft-deleted.
func (n *Node) IsDeleted() bool {
	return n.DeletedAt != nil
}

// IsEligible reports whether the node can currently receive assignments:
// online, not soft-deleted.
func (n *Node) IsEligible() bool {
	return !n.IsDeleted() && n.Status == NodeOnline
}

// DefaultReputation is assigned to newly registered nodes — a neutral
// prior pending observed task outcomes.
const DefaultReputation = 0.5

// InitialHealthScore computes the deterministic health-score composite
// for a freshly registered node (spec §4.1):
//
//	0.4·bw_norm + 0.3·(1 − latency_norm) + 0.2·compute_norm + 0.1·reputation
//
// At registration time there is no observed latency sample yet, so the
// latency term defaults to its best case (latency_norm=0) and is
// recomputed on the first heartbeat that carries telemetry.
func InitialHealthScore(c Capabilities) float64 {
	return ComputeHealthScore(c, 0, DefaultReputation)
}

// ComputeHealthScore recomputes the weighted composite from current
// capabilities, an observed latency sample (0..1, already normalized),
// and the node's current reputation (0..1). Returned in [0, 100].
func ComputeHealthScore(c Capabilities, latencyNorm, reputation float64) float64 {
	bwNorm := normalize(float64(c.BandwidthMbps), MinBandwidthMbps, MaxBandwidthMbps)
	computeNorm := normalize(float64(c.CPUCores), MinCPUCores, MaxCPUCores)

	if latencyNorm < 0 {
		latencyNorm = 0
	}
	if latencyNorm > 1 {
		latencyNorm = 1
	}
	if reputation < 0 {
		reputation = 0
	}
	if reputation > 1 {
		reputation = 1
	}

	score := 0.4*bwNorm + 0.3*(1-latencyNorm) + 0.2*computeNorm + 0.1*reputation
	return score * 100
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	n := (v - min) / (max - min)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}
