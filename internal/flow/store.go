package flow

import "context"

// Store persists interview session state keyed by session ID.
//
// Writes replace the whole document: a session's state is always read and
// written as one unit, never patched field by field. All implementations must
// be safe for concurrent use.
type Store interface {
	// Put creates or fully replaces the state for state.SessionID.
	Put(ctx context.Context, state State) error

	// Get retrieves the state for sessionID.
	// Returns [ErrNotFound] when no session with that ID exists.
	Get(ctx context.Context, sessionID string) (State, error)

	// Delete removes the state for sessionID.
	// Returns [ErrNotFound] when no session with that ID exists.
	Delete(ctx context.Context, sessionID string) error
}
