// Package circuit stops hammering a model endpoint after repeated failures.
//
// One breaker is shared by every actor worker that talks to the same endpoint, so a provider
// outage trips once instead of being rediscovered by each worker.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	Closed   State = iota // normal operation
	Open                  // rejecting requests
	HalfOpen              // probing for recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines circuit breaker thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Timeout          time.Duration // open duration before probing
}

// DefaultConfig provides defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// Error is returned when the circuit rejects a request.
type Error struct {
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// Breaker is a thread-safe circuit breaker.
type Breaker struct {
	config   Config
	now      func() time.Time
	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{config: cfg, now: time.Now}
}

// Allow reports whether a request may proceed, moving Open to HalfOpen after the timeout.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			return false
		}
		b.state = HalfOpen
		b.probes = 0
	}
	return true
}

// Record records the outcome of an allowed request.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == HalfOpen {
			b.probes++
			if b.probes >= b.config.SuccessThreshold {
				b.state = Closed
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = b.now()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
