package admission

import (
	"sync"
	"time"

	"coinwatch/src/logger"
)

// -----------------------------------------------------------------------------
// Circuit Breaker
// -----------------------------------------------------------------------------

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal operation
	StateOpen                         // Failing, reject calls without network I/O
	StateHalfOpen                     // Cool-down elapsed, probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards the upstream fetch. Consecutive failures open it; after
// the cool-down exactly one probe call is let through. Thread-safe.
type CircuitBreaker struct {
	mu sync.Mutex

	state         BreakerState
	failureCount  int
	lastFailure   time.Time
	probeInFlight bool

	failureThreshold int
	cooldown         time.Duration
	logger           *logger.Entry
}

// -----------------------------------------------------------------------------

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration, log *logger.Log) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		logger:           log.WithComponent("breaker"),
	}
}

// -----------------------------------------------------------------------------

// Allow reports whether an upstream call may proceed. In half-open state only
// a single probe is allowed until its outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			cb.logger.Info("cool-down elapsed, allowing probe call")
			return true
		}
		return false

	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// -----------------------------------------------------------------------------

// RecordSuccess resets the breaker after a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.state = StateClosed
		cb.failureCount = 0
		cb.probeInFlight = false
		cb.logger.Info("probe succeeded, breaker closed")
	}
}

// -----------------------------------------------------------------------------

// RecordFailure counts a failed call and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
			cb.logger.WithFields(logger.Fields{"failures": cb.failureCount}).
				Warn("failure threshold reached, breaker open")
		}

	case StateHalfOpen:
		// Probe failed: back to open, cool-down restarts.
		cb.state = StateOpen
		cb.failureCount = 0
		cb.probeInFlight = false
		cb.logger.Warn("probe failed, breaker open again")
	}
}

// -----------------------------------------------------------------------------

// State returns the current state (for the status endpoint).
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
