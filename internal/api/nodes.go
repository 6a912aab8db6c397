package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/infra/registry"
)

type registerNodeRequest struct {
	NodeID       string              `json:"node_id"`
	Region       string              `json:"region"`
	NodeType     domain.NodeType     `json:"node_type"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalid)
		return
	}

	node, err := s.registry.Register(registry.RegisterInput{
		NodeID:       req.NodeID,
		OwnerID:      callerID(r),
		Region:       req.Region,
		NodeType:     req.NodeType,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleListNodes is intentionally not ownership-filtered: any
// authenticated caller sees every non-deleted node, matching the
// decided Open Question and the teacher's own unscoped list endpoints.
// Single-row mutations (delete, heartbeat) remain ownership-checked.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.registry.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []domain.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

type heartbeatRequest struct {
	LatencyNorm *float64 `json:"latency_norm"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	var req heartbeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.ErrInvalid)
			return
		}
	}

	var telemetry *registry.Telemetry
	if req.LatencyNorm != nil {
		telemetry = &registry.Telemetry{LatencyNorm: *req.LatencyNorm}
	}

	resp, err := s.heartbeats.Beat(nodeID, callerID(r), telemetry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	node, err := s.registry.Get(nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if node.OwnerID != callerID(r) {
		writeError(w, domain.ErrNotFound)
		return
	}

	if err := s.registry.Delete(nodeID, false); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.intake.DisconnectNode(nodeID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.EndAllForNode(nodeID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGatewaySessions(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	node, err := s.registry.Get(nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if node.OwnerID != callerID(r) {
		writeError(w, domain.ErrNotFound)
		return
	}

	sessions, err := s.sessions.GatewaySessions(nodeID)
	if err != nil {
		writeError(w, err)
		return
	}

	type sessionView struct {
		domain.ConnectSession
		SessionToken string `json:"session_token"`
	}
	out := make([]sessionView, 0, len(sessions))
	for _, cs := range sessions {
		out = append(out, sessionView{ConnectSession: cs, SessionToken: cs.SessionTokenCleartext})
	}
	writeJSON(w, http.StatusOK, out)
}
