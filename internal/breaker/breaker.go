// Package breaker implements a per-server circuit breaker with the
// CLOSED/OPEN/HALF_OPEN state machine, keyed by server id so the router and
// proxy can isolate a failing upstream without affecting its siblings.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var ErrTooManyHalfOpenRequests = errors.New("too many requests in half-open state")

// Config mirrors the gateway's circuit breaker defaults.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 3}
}

// Breaker is a single server's circuit breaker.
type Breaker struct {
	mu           sync.Mutex
	cfg          Config
	state        State
	failures     int
	successes    int
	halfOpenReqs int
	openedAt     time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	return &Breaker{cfg: cfg, state: Closed}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed, transitioning OPEN->HALF_OPEN
// once the recovery timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(HalfOpen)
			b.halfOpenReqs = 1
			return nil
		}
		return apperrors.CircuitOpen("")
	case HalfOpen:
		if b.halfOpenReqs >= b.cfg.SuccessThreshold {
			return ErrTooManyHalfOpenRequests
		}
		b.halfOpenReqs++
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(Closed)
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.halfOpenReqs = 0
	if to == Open {
		b.openedAt = time.Now()
	}
}

// Execute runs fn under the breaker's protection, recording outcome and
// reporting state transitions into m for the given server.
func (b *Breaker) Execute(ctx context.Context, serverID string, m *metrics.Metrics, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		if m != nil {
			m.CircuitBreakerState.WithLabelValues(serverID).Set(float64(b.State()))
		}
		return err
	}

	err := fn(ctx)
	before := b.State()
	if err == nil {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
	after := b.State()

	if m != nil {
		m.CircuitBreakerState.WithLabelValues(serverID).Set(float64(after))
		if before != after {
			m.CircuitBreakerTransitions.WithLabelValues(serverID, before.String(), after.String()).Inc()
		}
	}
	return err
}

// Registry holds one Breaker per server id, created lazily on first use.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(serverID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[serverID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[serverID]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[serverID] = b
	return b
}

func (r *Registry) Remove(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, serverID)
}

// Snapshot returns the current state of every tracked breaker, keyed by
// server id.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.State()
	}
	return out
}
