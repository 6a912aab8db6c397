// Package api provides the coordinator's HTTP control-plane surface:
// node registration/heartbeat/deletion, task submission/listing/
// cancellation, result intake, and a standalone proof-verification
// passthrough. Grounded on the teacher's internal/api/server.go
// chi-router-plus-middleware shape and its writeJSON/writeError
// helpers, re-routed from model-serving endpoints to the coordinator's
// own resource set.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/eligibility"
	"github.com/tutu-network/coordinator/internal/heartbeat"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
	"github.com/tutu-network/coordinator/internal/resultintake"
	"github.com/tutu-network/coordinator/internal/verify"
)

// Server is the coordinator's HTTP API server.
type Server struct {
	store      *store.Store
	registry   *registry.Registry
	assigner   *assign.Assigner
	heartbeats *heartbeat.Sync
	intake     *resultintake.Intake
	sessions   *connect.Manager
	gate       *eligibility.Gate
	verifier   *verify.Verifier
	policies   map[domain.TaskType]domain.TaskPolicy

	metricsHandler http.Handler
	now            func() time.Time
}

// New constructs a Server wiring every component the wire API dispatches to.
func New(
	s *store.Store,
	r *registry.Registry,
	a *assign.Assigner,
	hb *heartbeat.Sync,
	in *resultintake.Intake,
	sessions *connect.Manager,
	gate *eligibility.Gate,
	v *verify.Verifier,
	policies map[domain.TaskType]domain.TaskPolicy,
) *Server {
	return &Server{
		store: s, registry: r, assigner: a, heartbeats: hb, intake: in,
		sessions: sessions, gate: gate, verifier: v, policies: policies,
		now: time.Now,
	}
}

// EnableMetrics mounts the given handler at /metrics.
func (s *Server) EnableMetrics(h http.Handler) { s.metricsHandler = h }

// WithClock overrides the server's clock, for deterministic tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// newTaskID mints a fresh task identifier the same way
// internal/connect mints session IDs (uuid.NewString).
func newTaskID() string { return uuid.NewString() }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", s.handleRegisterNode)
			r.Get("/", s.handleListNodes)
			r.Put("/{nodeID}/heartbeat", s.handleHeartbeat)
			r.Delete("/{nodeID}", s.handleDeleteNode)
			r.Get("/{nodeID}/gateway-sessions", s.handleGatewaySessions)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleSubmitTask)
			r.Get("/", s.handleListTasks)
			r.Post("/{taskID}/result", s.handleSubmitResult)
			r.Delete("/{taskID}", s.handleCancelTask)
		})
		r.Post("/proofs/verify", s.handleVerifyProof)
	})

	return r
}

// ─── shared envelope helpers ────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorKind maps a domain sentinel to its wire kind and status code —
// mirrors the teacher's writeError helper, extended with the
// kind/status pairs this spec's error model requires (spec §7).
func errorKind(err error) (status int, kind string) {
	switch {
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest, "Invalid"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return http.StatusUnprocessableEntity, "InsufficientCapacity"
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return http.StatusConflict, "AlreadyTerminal"
	case errors.Is(err, domain.ErrProofInvalid):
		return http.StatusUnprocessableEntity, "ProofInvalid"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := errorKind(err)
	writeJSON(w, status, map[string]string{
		"error":   kind,
		"message": err.Error(),
	})
}

// callerID resolves the authenticated caller's identity. Credential
// verification (JWT/API key) is the excluded auth collaborator (spec
// §1) — this reads the identity the upstream auth layer is assumed to
// have already attached, the way the teacher's MCP transport reads
// Mcp-Session-Id off a header the transport layer set.
func callerID(r *http.Request) string {
	return r.Header.Get("X-Caller-ID")
}
