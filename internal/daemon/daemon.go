package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/coordinator/internal/api"
	"github.com/tutu-network/coordinator/internal/assign"
	"github.com/tutu-network/coordinator/internal/connect"
	"github.com/tutu-network/coordinator/internal/domain"
	"github.com/tutu-network/coordinator/internal/eligibility"
	"github.com/tutu-network/coordinator/internal/heartbeat"
	"github.com/tutu-network/coordinator/internal/infra/registry"
	"github.com/tutu-network/coordinator/internal/infra/store"
	"github.com/tutu-network/coordinator/internal/resultintake"
	"github.com/tutu-network/coordinator/internal/sweeper"
	"github.com/tutu-network/coordinator/internal/verify"
)

// Daemon is the coordinator runtime. It wires together every
// component the control plane needs and owns their lifecycle.
type Daemon struct {
	Config Config

	Store      *store.Store
	Registry   *registry.Registry
	Sessions   *connect.Manager
	Assigner   *assign.Assigner
	Heartbeats *heartbeat.Sync
	Intake     *resultintake.Intake
	Fallback   *resultintake.FallbackCompleter
	Sweeper    *sweeper.Sweeper
	Gate       *eligibility.Gate
	Verifier   *verify.Verifier
	Server     *api.Server

	cancel context.CancelFunc
}

// New loads configuration from disk/environment and constructs a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig constructs a Daemon from an explicit configuration,
// wiring every component in dependency order: store, registry, connect
// sessions, assigner, heartbeat sync, proof verifier, result intake,
// fallback completer, offline sweeper, eligibility gate, API server.
func NewWithConfig(cfg Config) (*Daemon, error) {
	s, err := store.Open(CoordinatorHome())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(s)
	if err := reg.Load(); err != nil {
		s.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	sessions := connect.New(s)
	a := assign.New(s, reg, sessions)
	policies := domain.DefaultPolicies()

	drainCap := cfg.Sweep.HeartbeatDrainCap
	if drainCap <= 0 {
		drainCap = heartbeat.DefaultDrainCap
	}
	hb := heartbeat.New(s, reg, a, policies, drainCap)

	// The external ZK proof verification collaborator (spec §1) is out
	// of this core's scope; nil here means Verify's nil-inner guard
	// rejects every proof with ErrProofInvalid until a real verifier is
	// wired in by the deployment.
	v := verify.New(nil, verify.Config{VerifyTimeout: cfg.VerifyTimeout()})

	in := resultintake.New(s, reg, v, policies)
	fc := resultintake.NewFallbackCompleter(s, reg, sessions, policies)

	sw := sweeper.New(s, reg, in, a, sessions, policies).
		WithInterval(cfg.SweepInterval()).
		WithHeartbeatTimeout(cfg.HeartbeatTimeout())

	// The external WASM sandbox runtime (spec §1) is likewise out of
	// this core's scope; WithSandbox defaults to nil, so module
	// admission skips validation until a deployment wires one in.
	gate := eligibility.New(policies, reg)

	srv := api.New(s, reg, a, hb, in, sessions, gate, v, policies)
	srv.EnableMetrics(promhttp.Handler())

	return &Daemon{
		Config:     cfg,
		Store:      s,
		Registry:   reg,
		Sessions:   sessions,
		Assigner:   a,
		Heartbeats: hb,
		Intake:     in,
		Fallback:   fc,
		Sweeper:    sw,
		Gate:       gate,
		Verifier:   v,
		Server:     srv,
	}, nil
}

// Serve starts the offline sweeper, the fallback completer for
// non-connect_only tasks, and the HTTP API, blocking until the context is canceled
// or a SIGINT/SIGTERM is received, then drains gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Sweeper.Run(ctx)
	go d.runFallbackLoop(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.Store.Close()
	}()

	fmt.Printf("coordinator serving on http://%s\n", addr)
	fmt.Printf("  metrics: http://%s/metrics\n", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runFallbackLoop periodically sweeps for running non-connect_only
// tasks whose deadline has passed without a result, completing or
// failing them per the task's FallbackBehavior. connect_only tasks are
// skipped; their sessions end through revocation, expiry, or the
// sweeper.
func (d *Daemon) runFallbackLoop(ctx context.Context) {
	interval := d.Config.SweepInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Fallback.Sweep(); err != nil {
				log.Printf("[daemon] fallback sweep error: %v", err)
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
}
