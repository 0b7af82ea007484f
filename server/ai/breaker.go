package ai

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a provider's circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operation state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects all requests until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to check recovery.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures inside
	// FailureWindow that opens the breaker.
	FailureThreshold int
	// FailureWindow bounds how old the failure streak may be.
	FailureWindow time.Duration
	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default policy: 5 failures in 60s opens
// the breaker for 30s, then one half-open probe.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker tracks consecutive failures for a single provider.
// Outcome recording is serialized by the provider's health tracker; Allow
// performs the lazy Open to HalfOpen transition under the same lock.
type CircuitBreaker struct {
	mu sync.Mutex

	state         CircuitState
	failures      int
	streakStart   time.Time
	lastFailure   time.Time
	probeInFlight bool

	cfg BreakerConfig
}

// NewCircuitBreaker creates a breaker with the given policy, applying
// defaults for zero values.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &CircuitBreaker{state: CircuitClosed, cfg: cfg}
}

// Allow reports whether a request may proceed. In the half-open state only
// one probe is admitted at a time.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.cfg.Cooldown {
			cb.state = CircuitHalfOpen
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	}
	return nil
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.failures = 0
		cb.probeInFlight = false
	case CircuitClosed:
		cb.failures = 0
	}
}

// Failure records a failed call.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	// A stale streak restarts the count instead of extending it.
	if cb.failures == 0 || now.Sub(cb.streakStart) > cb.cfg.FailureWindow {
		cb.streakStart = now
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.probeInFlight = false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
