// Package mock provides a scripted test double for the voice.Transport
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxprep/voxprep/pkg/voice"
)

// Transport is a mock implementation of voice.Transport.
//
// Tests feed events in with [Transport.Emit] and inspect the recorded
// commands afterwards. The zero value is not usable; construct with [New].
type Transport struct {
	mu sync.Mutex

	events chan voice.Event
	closed bool

	// SayErr, CancelErr and SystemErr are injected as the return values of the
	// corresponding commands.
	SayErr    error
	CancelErr error
	SystemErr error

	// SayCalls records every text passed to Say, in order.
	SayCalls []string

	// CancelCalls is the number of CancelSpeech invocations.
	CancelCalls int

	// SystemCalls records every text passed to SendSystemMessage, in order.
	SystemCalls []string
}

// Ensure Transport implements voice.Transport at compile time.
var _ voice.Transport = (*Transport)(nil)

// New returns a Transport with an event channel of the given buffer depth.
func New(buf int) *Transport {
	return &Transport{events: make(chan voice.Event, buf)}
}

// Emit delivers evt to the consumer of Events. Emit after Close panics, as a
// send on a closed channel would in a real transport; tests should not do it.
func (t *Transport) Emit(evt voice.Event) {
	t.events <- evt
}

// Say records the call and returns SayErr.
func (t *Transport) Say(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SayCalls = append(t.SayCalls, text)
	return t.SayErr
}

// CancelSpeech records the call and returns CancelErr.
func (t *Transport) CancelSpeech(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CancelCalls++
	return t.CancelErr
}

// SendSystemMessage records the call and returns SystemErr.
func (t *Transport) SendSystemMessage(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SystemCalls = append(t.SystemCalls, text)
	return t.SystemErr
}

// Events returns the event channel.
func (t *Transport) Events() <-chan voice.Event {
	return t.events
}

// Close closes the event channel once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}
