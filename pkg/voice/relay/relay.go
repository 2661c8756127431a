// Package relay implements the voice.Transport interface over a WebSocket
// connection to a voice relay service.
//
// The relay (typically the browser-facing voice gateway) runs the audio side
// of an interview call — microphone capture, speech-to-text, text-to-speech
// playback — and exchanges JSON control frames with this client. Incoming
// frames are decoded into [voice.Event] values; outgoing frames carry the
// say / cancel / system-message commands.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxprep/voxprep/pkg/voice"
)

// Compile-time assertion that Session satisfies voice.Transport.
var _ voice.Transport = (*Session)(nil)

const (
	// defaultDialTimeout bounds call establishment. The relay is expected to
	// answer well within this; a slow dial means the call is effectively dead.
	defaultDialTimeout = 30 * time.Second

	// defaultEventBuf is the buffer depth of the event channel. Sized to absorb
	// a burst of transcript fragments without blocking the read loop.
	defaultEventBuf = 64
)

// Option is a functional option for configuring a Session during dialing.
type Option func(*Session)

// WithDialTimeout overrides the call-establishment timeout. Default is 30s.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// WithEventBuffer sets the buffer capacity of the channel returned by
// [Session.Events]. Default is 64.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.eventBuf = n }
}

// WithHeader adds an HTTP header to the WebSocket handshake request, e.g. an
// authorization token for the relay.
func WithHeader(key, value string) Option {
	return func(s *Session) { s.header.Set(key, value) }
}

// Session is one live call connection to the relay.
//
// All exported methods are safe for concurrent use.
type Session struct {
	conn *websocket.Conn

	dialTimeout time.Duration
	eventBuf    int
	header      http.Header

	events chan voice.Event

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// commandFrame is the outgoing JSON control frame.
type commandFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Dial connects to the relay at url and starts the event read loop.
//
// The handshake is bounded by the dial timeout (default 30s) independent of
// ctx; ctx governs the lifetime of the whole session and cancelling it tears
// the call down.
func Dial(ctx context.Context, url string, opts ...Option) (*Session, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		dialTimeout: defaultDialTimeout,
		eventBuf:    defaultEventBuf,
		header:      http.Header{},
		ctx:         sessCtx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.events = make(chan voice.Event, s.eventBuf)

	dialCtx, dialCancel := context.WithTimeout(sessCtx, s.dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader: s.header,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	s.conn = conn

	go s.receiveLoop()
	return s, nil
}

// Say implements voice.Transport.
func (s *Session) Say(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("relay: say: text must not be empty")
	}
	return s.writeJSON(ctx, commandFrame{Type: "say", Text: text})
}

// CancelSpeech implements voice.Transport.
func (s *Session) CancelSpeech(ctx context.Context) error {
	return s.writeJSON(ctx, commandFrame{Type: "cancel-speech"})
}

// SendSystemMessage implements voice.Transport.
func (s *Session) SendSystemMessage(ctx context.Context, text string) error {
	return s.writeJSON(ctx, commandFrame{Type: "system-message", Text: text})
}

// Events implements voice.Transport. The returned channel is assigned once in
// [Dial] and never mutated, so no lock is required.
func (s *Session) Events() <-chan voice.Event {
	return s.events
}

// Close implements voice.Transport. It cancels the session context, which
// unblocks the read loop; the loop closes the event channel on exit. Close is
// safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	return nil
}

// writeJSON marshals v and writes it as a text WebSocket frame.
func (s *Session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

// receiveLoop reads frames from the WebSocket and forwards decoded events.
// It owns the events channel: it closes it when it exits.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var evt voice.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			// Unknown frames from newer relay versions are skipped, not fatal.
			continue
		}
		if evt.Type == "" {
			continue
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now()
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}
