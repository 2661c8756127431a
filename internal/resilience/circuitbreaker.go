// Package resilience keeps interview turns moving when an LLM backend
// misbehaves.
//
// Question generation and answer analysis both block a live voice call, so a
// flapping backend is worse here than a slow one: the candidate hears silence
// while retries burn the turn budget. [CircuitBreaker] suspends a backend
// after repeated failures, and [FallbackGroup] routes each generation or
// analysis call to the first backend whose breaker still admits traffic.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the backend is
// suspended and its retry window has not yet elapsed.
var ErrCircuitOpen = errors.New("backend suspended by circuit breaker")

// State is the admission mode of a [CircuitBreaker].
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after
	// MaxFailures consecutive failures; left once ResetTimeout elapses.
	StateOpen

	// StateHalfOpen admits a small probe budget to test whether the backend
	// recovered. Probes all succeeding closes the breaker; any probe failure
	// re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker]. The
// defaults assume the protected call sits on an interview turn's critical
// path: trip fast, probe again soon.
type CircuitBreakerConfig struct {
	// Name labels the guarded backend in log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 3 — three botched questions in a row is already a
	// ruined interview segment.
	MaxFailures int

	// ResetTimeout is how long the backend stays suspended before probing
	// resumes. Default: 20s, roughly one question-and-answer exchange.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 2.
	HalfOpenMax int
}

// CircuitBreaker guards one LLM backend with the classic three-state pattern.
// Safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	suspendedAt     time.Time
	probesSent      int
	probesOK        int
}

// NewCircuitBreaker creates a [CircuitBreaker] for one backend. Zero-value
// config fields take the conversational-latency defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 20 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call, then settles the breaker
// with fn's outcome. A suspended backend returns [ErrCircuitOpen] without fn
// ever running.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.settle(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed, reporting whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.suspendedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probesSent = 0
		cb.probesOK = 0
		slog.Info("probing suspended backend", "backend", cb.name)

	case StateHalfOpen:
		if cb.probesSent >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probesSent++
		return true, nil
	}
	return false, nil
}

// settle updates the breaker with the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, callErr error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		cb.suspendedAt = cb.now()
		if probe {
			// One failed probe is enough evidence the backend is still down.
			cb.state = StateOpen
			cb.consecutiveFail = cb.maxFailures
			slog.Warn("backend still failing, suspension extended", "backend", cb.name)
			return
		}
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("backend suspended",
				"backend", cb.name,
				"consecutive_failures", cb.consecutiveFail)
		}
		return
	}

	if probe {
		cb.probesOK++
		if cb.probesOK >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.probesSent = 0
			cb.probesOK = 0
			slog.Info("backend recovered", "backend", cb.name)
		}
		return
	}
	cb.consecutiveFail = 0
}

// State returns the breaker's admission mode. An open breaker whose retry
// window elapsed reports [StateHalfOpen]; the stored transition happens on
// the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.suspendedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probesSent = 0
	cb.probesOK = 0
	slog.Info("backend circuit reset", "backend", cb.name)
}
