// Package circuitbreaker implements the per-provider closed/open/half-open
// state machine guarding each provider.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls the breaker's thresholds.
type Config struct {
	MaxFailures        int           // default 5
	OpenTimeout        time.Duration // default 60s
	HalfOpenProbeCount int           // default 1
}

// DefaultConfig returns the standard thresholds: five consecutive
// failures to open, a 60s cool-down, one half-open probe.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, OpenTimeout: 60 * time.Second, HalfOpenProbeCount: 1}
}

// Statistics is the snapshot returned by Statistics().
type Statistics struct {
	State              State
	ConsecutiveFailures int
	TotalSuccesses     int
	TotalFailures      int
	LastFailureAt      time.Time
	OpenedAt           time.Time
}

// Breaker is a single provider's circuit breaker. All methods are safe for
// concurrent use; the lock never spans HTTP I/O — callers record outcomes
// after the I/O completes.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenProbesUsed  int
	lastFailureAt       time.Time
	openedAt            time.Time
	totalSuccesses      int
	totalFailures       int

	now func() time.Time
}

// New constructs a Breaker starting in the closed state.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultConfig().OpenTimeout
	}
	if cfg.HalfOpenProbeCount <= 0 {
		cfg.HalfOpenProbeCount = DefaultConfig().HalfOpenProbeCount
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// CurrentState returns the breaker's state, first resolving an expired
// open-timeout into half-open as a side effect (the transition is driven by
// the clock, not a background goroutine).
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state == StateOpen && b.now().Sub(b.lastFailureAt) >= b.cfg.OpenTimeout {
		b.state = StateHalfOpen
		b.halfOpenProbesUsed = 0
	}
}

// ShouldAttempt reports whether the caller may dispatch a request right now.
// The provider manager must consult this before every dispatch and never
// attempt a provider for which it returns false. In half-open, each true
// answer uses up one of the HalfOpenProbeCount probes.
func (b *Breaker) ShouldAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.halfOpenProbesUsed >= b.cfg.HalfOpenProbeCount {
			return false
		}
		b.halfOpenProbesUsed++
		return true
	default: // open
		return false
	}
}

// RecordSuccess resets the failure counter and, from half-open, closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalSuccesses++
	b.consecutiveFailures = 0

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.halfOpenProbesUsed = 0
	case StateOpen:
		// A success can only occur here via a stale caller; treat it the same as half-open recovery.
		b.state = StateClosed
	}
}

// RecordFailure increments the failure counter and opens the breaker once the
// threshold is reached; any half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenProbesUsed++
		b.state = StateOpen
		b.openedAt = b.lastFailureAt
		b.consecutiveFailures = b.cfg.MaxFailures
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.openedAt = b.lastFailureAt
		}
	case StateOpen:
		// already open; nothing to do beyond bookkeeping above
	}
}

// Statistics returns a point-in-time snapshot for health reporting.
func (b *Breaker) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return Statistics{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
	}
}
