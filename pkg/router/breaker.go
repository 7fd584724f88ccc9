package router

import (
	"sync"
	"time"
)

// CircuitState is the current state of one instance's breaker.
type CircuitState string

const (
	// StateClosed admits calls and counts failures.
	StateClosed CircuitState = "closed"

	// StateOpen rejects calls until the cooldown deadline passes.
	StateOpen CircuitState = "open"

	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen CircuitState = "half-open"
)

// BreakerConfig tunes the per-instance circuit breakers.
type BreakerConfig struct {
	// FailureThreshold opens the circuit once this many failures accumulate
	// within FailureWindow.
	FailureThreshold int

	// FailureWindow is the rolling window failures are counted in.
	FailureWindow time.Duration

	// Cooldown is how long an open circuit rejects calls before allowing a
	// half-open trial. A failed trial re-opens with twice this cooldown.
	Cooldown time.Duration
}

func (c *BreakerConfig) withDefaults() BreakerConfig {
	out := *c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.FailureWindow <= 0 {
		out.FailureWindow = 30 * time.Second
	}
	if out.Cooldown <= 0 {
		out.Cooldown = 15 * time.Second
	}
	return out
}

// breaker tracks failures for a single instance.
//
// State transitions happen on Allow (time-driven open -> half-open) and on
// outcome recording (closed -> open, half-open -> closed/open). Failure
// accounting only applies to calls that completed or definitively timed out;
// the router never records a canceled call.
type breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state         CircuitState
	failures      []time.Time // failure timestamps inside the window
	openedAt      time.Time
	cooldownUntil time.Time
	trialInFlight bool

	now func() time.Time
}

func newBreaker(cfg BreakerConfig, now func() time.Time) *breaker {
	return &breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   now,
	}
}

// Allow reports whether a call may proceed. In half-open state it admits a
// single trial and reserves it; a denied caller should pick another instance.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(b.cooldownUntil) {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = b.failures[:0]
	b.trialInFlight = false
}

// RecordFailure counts a completed failure. In half-open state the circuit
// re-opens with an extended cooldown; in closed state it opens once the
// rolling count exceeds the threshold.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.open(now, 2*b.cfg.Cooldown)
		return
	}

	// Drop failures that fell out of the rolling window.
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.open(now, b.cfg.Cooldown)
	}
}

// CanAttempt reports whether Allow would currently admit a call, without
// reserving the half-open trial slot. Used for candidate pre-filtering.
func (b *breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return !b.now().Before(b.cooldownUntil)
	case StateHalfOpen:
		return !b.trialInFlight
	}
	return false
}

// ReleaseTrial returns the half-open trial slot without recording an outcome.
// Used when a trial call was canceled before completing.
func (b *breaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *breaker) open(now time.Time, cooldown time.Duration) {
	b.state = StateOpen
	b.openedAt = now
	b.cooldownUntil = now.Add(cooldown)
	b.failures = b.failures[:0]
	b.trialInFlight = false
}

// State returns the current state, applying the time-driven open -> half-open
// transition for observation purposes.
func (b *breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !b.now().Before(b.cooldownUntil) {
		return StateHalfOpen
	}
	return b.state
}
