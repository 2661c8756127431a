package flow

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by [Store] implementations and orchestrator
// operations when no state exists for a session ID.
var ErrNotFound = errors.New("flow: session not found")

// ErrSessionBusy is returned when a second advance is attempted for a session
// that already has one in flight. At most one advance runs per session at any
// time; callers should retry after the current round completes.
var ErrSessionBusy = errors.New("flow: session has an advance in flight")

// ValidationError reports invalid caller input. It is surfaced to the caller
// immediately and is never retried.
type ValidationError struct {
	// Field is the offending input field, in its wire spelling.
	Field string

	// Reason describes why the value was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("flow: invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failure of the backing store. When one is returned
// the previously persisted state is still authoritative: the engine never
// leaves a partial write visible.
type PersistenceError struct {
	// Op is the store operation that failed ("get", "put", "delete").
	Op string

	// Err is the underlying store error.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("flow: persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
