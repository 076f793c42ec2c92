// Package breaker provides a three-state circuit breaker used to isolate
// the engine from unhealthy external dependencies.
//
// Snapshot persistence wraps its cache calls in a breaker so that a stalled
// or failing cache fails fast instead of consuming the persistence worker.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	// StateClosed allows all calls through
	StateClosed State = iota
	// StateOpen rejects all calls until the reset timeout elapses
	StateOpen
	// StateHalfOpen allows a limited number of probe calls through
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a mutex-guarded circuit breaker. The zero value is not usable;
// construct with New.
type Breaker struct {
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailure   time.Time
	state         State
	halfOpenCalls int
	halfOpenLimit int
}

// New creates a breaker that opens after maxFailures consecutive failures
// and probes again after resetTimeout.
func New(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		maxFailures:   maxFailures,
		resetTimeout:  resetTimeout,
		halfOpenLimit: 1,
	}
}

// Execute runs fn under breaker protection. When the breaker is open the
// call is rejected with ErrOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.state = StateOpen
		}
		return err
	}

	b.failures = 0
	b.state = StateClosed
	return nil
}

// acquire checks admission and transitions open → half-open after the reset
// timeout.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.resetTimeout {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
	}
	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.halfOpenLimit {
			return ErrOpen
		}
		b.halfOpenCalls++
	}
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.halfOpenCalls = 0
	b.state = StateClosed
	b.lastFailure = time.Time{}
}
