// Package verify wraps the external proof-verification collaborator
// (domain.ProofVerifier) with a wall-clock budget and a circuit
// breaker, adapted from the teacher's internal/infra/healing.go
// CircuitBreaker (CLOSED/OPEN/HALF_OPEN), narrowed to this one
// collaborator call rather than the teacher's general node-quarantine
// use of the same primitive.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/coordinator/internal/domain"
)

// CBState is a circuit breaker state.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the breaker is open and a call is rejected
// before ever reaching the verifier.
var ErrCircuitOpen = errors.New("proof verifier circuit open")

// Config configures the breaker and the per-call wall-clock budget.
type Config struct {
	FailureThreshold int           // failures to trip (default 5)
	ResetTimeout     time.Duration // time in OPEN before a HALF_OPEN probe (default 30s)
	HalfOpenMax      int           // successful probes to close (default 3)
	VerifyTimeout    time.Duration // ZK_VERIFY_TIMEOUT_SECONDS (default 30s)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
		VerifyTimeout:    30 * time.Second,
	}
}

// Verifier wraps a domain.ProofVerifier with a wall-clock budget and a
// breaker that trips after repeated upstream failures, so a sick
// verifier fails fast instead of stalling every result submission.
type Verifier struct {
	mu        sync.Mutex
	inner     domain.ProofVerifier
	config    Config
	state     CBState
	failures  int
	successes int
	trippedAt time.Time
	now       func() time.Time
}

// New wraps inner with the given config.
func New(inner domain.ProofVerifier, cfg Config) *Verifier {
	return &Verifier{inner: inner, config: cfg, state: CBClosed, now: time.Now}
}

// WithClock overrides the breaker's clock, for deterministic tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks proof through the wrapped verifier, bounded by the
// configured timeout, under breaker control. Returns
// (false, domain.ErrProofInvalid) if the proof fails verification or
// the breaker is open or the verifier exceeds its time budget —
// callers treat all three the same way (task stays running, never
// completes on an unverified claim).
func (v *Verifier) Verify(ctx context.Context, task domain.Task, output map[string]any, proof domain.Proof) (bool, error) {
	if v.inner == nil {
		return false, domain.ErrProofInvalid
	}

	if err := v.allow(); err != nil {
		return false, domain.ErrProofInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.VerifyTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := v.inner.Verify(ctx, task, output, proof)
		done <- result{ok, err}
	}()

	select {
	case <-ctx.Done():
		v.recordFailure()
		return false, domain.ErrProofInvalid
	case r := <-done:
		if r.err != nil || !r.ok {
			v.recordFailure()
			return false, domain.ErrProofInvalid
		}
		v.recordSuccess()
		return true, nil
	}
}

func (v *Verifier) allow() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case CBClosed:
		return nil
	case CBOpen:
		if v.now().Sub(v.trippedAt) >= v.config.ResetTimeout {
			v.state = CBHalfOpen
			v.successes = 0
			return nil
		}
		return fmt.Errorf("proof verifier: %w", ErrCircuitOpen)
	case CBHalfOpen:
		return nil
	}
	return nil
}

func (v *Verifier) recordSuccess() {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case CBHalfOpen:
		v.successes++
		if v.successes >= v.config.HalfOpenMax {
			v.state = CBClosed
			v.failures = 0
			v.successes = 0
		}
	case CBClosed:
		if v.failures > 0 {
			v.failures--
		}
	}
}

func (v *Verifier) recordFailure() {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case CBClosed:
		v.failures++
		if v.failures >= v.config.FailureThreshold {
			v.state = CBOpen
			v.trippedAt = v.now()
		}
	case CBHalfOpen:
		v.state = CBOpen
		v.trippedAt = v.now()
	}
}

// State returns the breaker's current state, auto-transitioning
// OPEN→HALF_OPEN if the reset timeout has elapsed.
func (v *Verifier) State() CBState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == CBOpen && v.now().Sub(v.trippedAt) >= v.config.ResetTimeout {
		v.state = CBHalfOpen
		v.successes = 0
	}
	return v.state
}
