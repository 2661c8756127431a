package interrupt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/voice"
)

// State is the turn-taking phase of one call.
type State string

const (
	// StateIdle means nobody is speaking.
	StateIdle State = "IDLE"

	// StateAISpeaking means the assistant's synthesized speech is playing.
	StateAISpeaking State = "AI_SPEAKING"

	// StateUserSpeaking means the candidate has the floor.
	StateUserSpeaking State = "USER_SPEAKING"

	// StateTerminated is the terminal phase entered when the transport fails
	// mid-call. All further events are ignored.
	StateTerminated State = "TERMINATED"
)

// Canceller is the slice of the voice transport the controller needs: the
// ability to stop assistant speech. [voice.Transport] satisfies it.
type Canceller interface {
	CancelSpeech(ctx context.Context) error
}

// Callbacks receive turn-taking outcomes. Either field may be nil. They are
// invoked from [Controller.HandleEvent] after the state transition has been
// applied and the controller lock released: a slow callback delays only the
// next event on that call, never [Controller.State] or [Controller.Terminate].
type Callbacks struct {
	// OnInterruption fires when candidate barge-in cancelled assistant
	// speech, with the measured reaction delay.
	OnInterruption func(delay time.Duration)

	// OnUtterance fires when a final candidate transcript arrives.
	OnUtterance func(text string)
}

// Controller is the per-call turn-taking state machine.
//
// Every transport event goes through the single [Controller.HandleEvent]
// dispatch. The controller is safe for concurrent use, though a transport
// normally delivers events from one goroutine.
type Controller struct {
	mu            sync.Mutex
	state         State
	aiSpeechStart time.Time

	transport Canceller
	recorder  *Recorder
	callbacks Callbacks
	metrics   *observe.Metrics
	maxDelay  time.Duration
	now       func() time.Time
}

// ControllerOption customises a [Controller].
type ControllerOption func(*Controller)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithMaxDelay overrides the acceptable barge-in reaction ceiling.
func WithMaxDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.maxDelay = d }
}

// WithMetrics attaches application metrics.
func WithMetrics(m *observe.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// NewController constructs a Controller in [StateIdle]. recorder may be nil,
// in which case one with [DefaultMaxDelay] is created.
func NewController(transport Canceller, recorder *Recorder, callbacks Callbacks, opts ...ControllerOption) *Controller {
	c := &Controller{
		state:     StateIdle,
		transport: transport,
		recorder:  recorder,
		callbacks: callbacks,
		maxDelay:  DefaultMaxDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = NewRecorder(c.maxDelay)
	}
	return c
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Recorder returns the latency recorder backing this controller.
func (c *Controller) Recorder() *Recorder {
	return c.recorder
}

// HandleEvent dispatches one transport event through the state machine.
// It never returns an error: transport anomalies are absorbed, logged, and
// reported through the recorder.
func (c *Controller) HandleEvent(ctx context.Context, evt voice.Event) {
	c.mu.Lock()

	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}

	var (
		interrupted bool
		delay       time.Duration
		utterance   string
		gotFinal    bool
	)

	switch {
	case evt.Type == voice.EventSpeechStart && evt.Role == voice.RoleAssistant:
		c.state = StateAISpeaking
		c.aiSpeechStart = c.now()

	case evt.Type == voice.EventSpeechEnd && evt.Role == voice.RoleAssistant:
		if c.state == StateAISpeaking {
			c.state = StateIdle
			c.aiSpeechStart = time.Time{}
		}

	case isBargeIn(evt):
		interrupted, delay = c.bargeInLocked()

	case evt.Type == voice.EventTranscript && evt.Role == voice.RoleUser && evt.TranscriptType == voice.TranscriptFinal:
		if c.state == StateUserSpeaking {
			c.state = StateIdle
		}
		utterance, gotFinal = evt.Transcript, true
	}

	// Release c.mu before I/O and callbacks: a turn driven from OnUtterance
	// issues slow LLM calls, and Stop or a concurrent State poll must not wait
	// on them.
	c.mu.Unlock()

	if interrupted {
		c.cancelSpeech(ctx, delay)
	}
	if gotFinal && c.callbacks.OnUtterance != nil {
		c.callbacks.OnUtterance(utterance)
	}
}

// isBargeIn reports whether evt signals the candidate speaking over the
// assistant.
func isBargeIn(evt voice.Event) bool {
	switch evt.Type {
	case voice.EventUserInterrupted, voice.EventVoiceInput:
		return true
	case voice.EventTranscript:
		return evt.Role == voice.RoleUser &&
			evt.TranscriptType == voice.TranscriptPartial &&
			strings.TrimSpace(evt.Transcript) != ""
	case voice.EventSpeechUpdate:
		return evt.Role == voice.RoleUser && evt.Status == voice.SpeechStatusStarted
	}
	return false
}

// bargeInLocked applies the barge-in state transition and measures the
// reaction delay. Callers hold c.mu. The returned flag says whether speech
// was actually interrupted and [Controller.cancelSpeech] needs to run.
func (c *Controller) bargeInLocked() (bool, time.Duration) {
	if c.state != StateAISpeaking {
		return false, 0
	}
	// Nothing to interrupt without a speech start mark; never record a
	// spurious delay.
	if c.aiSpeechStart.IsZero() {
		return false, 0
	}

	delay := c.now().Sub(c.aiSpeechStart)
	c.recorder.Record(delay)
	c.state = StateUserSpeaking
	c.aiSpeechStart = time.Time{}
	return true, delay
}

// cancelSpeech stops the assistant's playback after a barge-in and records
// the outcome. Runs outside c.mu; the state transition already happened.
func (c *Controller) cancelSpeech(ctx context.Context, delay time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordInterruption(ctx, delay)
	}

	log := observe.Logger(ctx).With(
		slog.Duration("delay", delay),
		slog.Bool("within_target", delay <= c.maxDelay),
	)

	// Cancellation is advisory. A failed cancel is recorded but the machine
	// still hands the floor to the candidate.
	if err := c.transport.CancelSpeech(ctx); err != nil {
		c.recorder.RecordFailedCancellation(err.Error())
		if c.metrics != nil {
			c.metrics.RecordCancellation(ctx, false, err.Error())
		}
		log.Warn("speech cancellation failed", slog.Any("err", err))
	} else {
		c.recorder.RecordSuccessfulCancellation()
		if c.metrics != nil {
			c.metrics.RecordCancellation(ctx, true, "")
		}
		log.Info("assistant speech interrupted")
	}

	if c.callbacks.OnInterruption != nil {
		c.callbacks.OnInterruption(delay)
	}
}

// Terminate moves the machine to [StateTerminated], used when the transport
// becomes unavailable mid-call. Idempotent.
func (c *Controller) Terminate(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTerminated {
		return
	}
	c.state = StateTerminated
	c.aiSpeechStart = time.Time{}
	observe.Logger(ctx).Warn("turn-taking terminated",
		slog.String("reason", reason))
}
