package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// is suspended by its breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the per-backend circuit breaker created for each
// entry in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs one backend with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup routes calls across a primary backend and zero or more
// fallbacks of the same type. A call goes to the first backend whose breaker
// admits it; a failure moves on to the next, so a flapping primary costs one
// failed attempt rather than a stalled interview turn.
//
// Entries are fixed after setup; the breakers make concurrent Execute calls
// safe.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the preferred backend.
// Register fallbacks with [FallbackGroup.AddFallback] before first use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after the primary, in registration
// order.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the backend names in routing order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Suspended returns the names of backends whose breakers currently reject
// calls. An empty slice means every backend is accepting traffic; a full one
// means the next call will return [ErrAllFailed] without reaching a backend.
func (fg *FallbackGroup[T]) Suspended() []string {
	var out []string
	for i := range fg.entries {
		if fg.entries[i].breaker.State() == StateOpen {
			out = append(out, fg.entries[i].name)
		}
	}
	return out
}

// Execute tries fn against each backend in order until one succeeds.
// Suspended backends are skipped. Returns [ErrAllFailed] wrapping the last
// error when every backend fails.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		logFailover(entry.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult tries fn against each backend until one succeeds,
// returning its result. A package-level function because Go methods cannot
// add type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logFailover(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func logFailover(backend string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping suspended backend", "backend", backend)
		return
	}
	slog.Warn("backend failed, trying next", "backend", backend, "error", err)
}
