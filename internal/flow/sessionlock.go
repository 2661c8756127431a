package flow

import "sync"

// sessionLocks serialises mutating operations per session ID. Sessions are
// independent: holding one session's lock never blocks another session.
//
// The lock is non-blocking on purpose. A second mutation arriving while one
// is in flight for the same session is a caller error (two turns cannot
// overlap in a voice call), so it is rejected with [ErrSessionBusy] rather
// than queued.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]struct{})}
}

// tryAcquire attempts to take the lock for sessionID. It reports false when
// the lock is already held.
func (l *sessionLocks) tryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[sessionID]; busy {
		return false
	}
	l.held[sessionID] = struct{}{}
	return true
}

// release frees the lock for sessionID. Releasing an unheld lock is a no-op.
func (l *sessionLocks) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}
