package voice

import "context"

// Transport is a handle to one live voice call.
//
// Implementations must be safe for concurrent use: the engine issues commands
// from HTTP handlers and its event loop simultaneously. The Events channel is
// closed by the implementation when the call ends, whether by Close or by the
// remote side hanging up.
type Transport interface {
	// Say asks the transport to synthesize and play text to the candidate.
	// It returns once the transport has accepted the utterance, not once
	// playback finishes.
	Say(ctx context.Context, text string) error

	// CancelSpeech tells the transport to stop any in-flight assistant speech
	// immediately. It is advisory and fire-and-forget from the engine's point
	// of view: a failed cancellation is reported to telemetry but never blocks
	// turn-taking.
	CancelSpeech(ctx context.Context) error

	// SendSystemMessage injects a background instruction into the transport's
	// conversation context without speaking it aloud.
	SendSystemMessage(ctx context.Context, text string) error

	// Events returns the stream of call events. The same channel is returned
	// on every call; it is closed when the call ends.
	Events() <-chan Event

	// Close tears the call down and releases transport resources. It is safe
	// to call multiple times.
	Close() error
}
