package fetch

import (
	"sync"
	"time"
)

// CircuitState is the per-endpoint breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // failing fast, no network
	CircuitHalfOpen CircuitState = "half_open" // exactly one probe allowed
)

// BreakerConfig configures one endpoint's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive call failures open the
	// circuit. Any success resets the count.
	FailureThreshold int

	// BaseCooldown is how long the circuit stays open after it first
	// trips. Every failed half-open probe doubles the cooldown, up to
	// MaxCooldown; a successful probe resets it to base.
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

// DefaultBreakerConfig mirrors the production profile: five consecutive
// failures trip the breaker for ten seconds, doubling to at most two
// minutes while the endpoint stays down.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		BaseCooldown:     10 * time.Second,
		MaxCooldown:      2 * time.Minute,
	}
}

// BreakerStats is a snapshot of one breaker for diagnostics.
type BreakerStats struct {
	Endpoint  string       `json:"endpoint"`
	State     CircuitState `json:"state"`
	Failures  int          `json:"failures"`
	Cooldown  string       `json:"cooldown"`
	OpenUntil time.Time    `json:"open_until,omitempty"`
}

/*
breaker is the state machine guarding one upstream endpoint.

	Closed --(threshold consecutive failures)--> Open
	Open --(cooldown elapsed)--> HalfOpen
	HalfOpen --(probe succeeds)--> Closed, cooldown back to base
	HalfOpen --(probe fails)--> Open, cooldown doubled (capped)

While HalfOpen, exactly one probe call is in flight; everyone else is
rejected with ErrCircuitOpen until the probe resolves.
*/
type breaker struct {
	mu       sync.Mutex
	endpoint string
	cfg      BreakerConfig

	state     CircuitState
	failures  int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool

	now           func() time.Time
	onStateChange func(endpoint string, from, to CircuitState)
}

func newBreaker(endpoint string, cfg BreakerConfig, now func() time.Time,
	onStateChange func(string, CircuitState, CircuitState)) *breaker {
	return &breaker{
		endpoint:      endpoint,
		cfg:           cfg,
		state:         CircuitClosed,
		cooldown:      cfg.BaseCooldown,
		now:           now,
		onStateChange: onStateChange,
	}
}

// allow decides whether a call may proceed right now.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if b.now().Before(b.openUntil) {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		b.probing = true
		return nil

	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// onSuccess records a successful call (after any internal retries).
func (b *breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != CircuitClosed {
		b.cooldown = b.cfg.BaseCooldown
		b.probing = false
		b.transition(CircuitClosed)
	}
}

// onFailure records a failed call (after retries were exhausted or the
// error was non-retryable).
func (b *breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openUntil = b.now().Add(b.cooldown)
			b.transition(CircuitOpen)
		}

	case CircuitHalfOpen:
		// Failed probe: back to open, with a longer cooldown.
		b.probing = false
		b.cooldown *= 2
		if b.cfg.MaxCooldown > 0 && b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.openUntil = b.now().Add(b.cooldown)
		b.transition(CircuitOpen)
	}
}

func (b *breaker) stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerStats{
		Endpoint: b.endpoint,
		State:    b.state,
		Failures: b.failures,
		Cooldown: b.cooldown.String(),
	}
	if b.state == CircuitOpen {
		s.OpenUntil = b.openUntil
	}
	return s
}

// transition changes state and notifies. Caller holds the lock; the
// callback must not call back into the breaker.
func (b *breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.endpoint, from, to)
	}
}
