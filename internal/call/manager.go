// Package call binds live voice transports to interview flows.
//
// A call is the spoken counterpart of one flow session: the transport plays
// the interviewer's questions and streams back candidate speech events, the
// interruption controller arbitrates the floor, and every finalized candidate
// utterance advances the flow by one turn.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/interrupt"
	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/voice"
)

// ErrCallActive is returned by Start when the session already has a live call.
var ErrCallActive = errors.New("call: session already has an active call")

// ErrNoCall is returned by Stop when the session has no live call.
var ErrNoCall = errors.New("call: no active call for session")

// closingRemark is spoken when the flow runs out of questions mid-call.
const closingRemark = "That concludes our interview. Thank you for your time; you will receive detailed feedback shortly."

// Dialer opens a fresh transport for a call. Each call gets its own transport.
type Dialer func(ctx context.Context) (voice.Transport, error)

// Manager owns every live call. One call per session; all exported methods
// are safe for concurrent use.
type Manager struct {
	orch     *flow.Orchestrator
	dial     Dialer
	metrics  *observe.Metrics
	maxDelay time.Duration

	mu    sync.Mutex
	calls map[string]*Call
}

// ManagerOption customises a [Manager].
type ManagerOption func(*Manager)

// WithMetrics attaches telemetry instruments.
func WithMetrics(m *observe.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithMaxInterruptionDelay sets the barge-in latency threshold for new calls.
func WithMaxInterruptionDelay(d time.Duration) ManagerOption {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.maxDelay = d
		}
	}
}

// NewManager creates a Manager that advances flows through orch and opens
// transports with dial.
func NewManager(orch *flow.Orchestrator, dial Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		orch:     orch,
		dial:     dial,
		maxDelay: interrupt.DefaultMaxDelay,
		calls:    make(map[string]*Call),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Call is one live voice interview.
type Call struct {
	sessionID  string
	transport  voice.Transport
	controller *interrupt.Controller
	manager    *Manager
	cancel     context.CancelFunc
	done       chan struct{}

	mu      sync.Mutex
	current string // question awaiting an answer
}

// Start opens a transport for sessionID, speaks the pending question, and
// begins consuming call events. The flow session must already exist;
// [flow.ErrNotFound] passes through when it does not.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	state, err := m.orch.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(state.QuestionHistory) == 0 {
		return fmt.Errorf("call: session %s has no question to ask", sessionID)
	}
	pending := state.QuestionHistory[len(state.QuestionHistory)-1].Question

	m.mu.Lock()
	if _, exists := m.calls[sessionID]; exists {
		m.mu.Unlock()
		return ErrCallActive
	}
	// Reserve the slot before dialing so two concurrent Starts cannot both dial.
	m.calls[sessionID] = nil
	maxDelay := m.maxDelay
	m.mu.Unlock()

	transport, err := m.dial(ctx)
	if err != nil {
		m.removeCall(sessionID)
		return fmt.Errorf("call: dial transport: %w", err)
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Call{
		sessionID: sessionID,
		transport: transport,
		manager:   m,
		cancel:    cancel,
		done:      make(chan struct{}),
		current:   pending,
	}
	recorder := interrupt.NewRecorder(maxDelay)
	c.controller = interrupt.NewController(transport, recorder, interrupt.Callbacks{
		OnInterruption: func(delay time.Duration) {
			observe.Logger(callCtx).Debug("candidate barge-in",
				slog.String("session_id", sessionID),
				slog.Duration("delay", delay),
			)
		},
		OnUtterance: func(text string) {
			c.handleUtterance(callCtx, text)
		},
	},
		interrupt.WithMaxDelay(maxDelay),
		interrupt.WithMetrics(m.metrics),
	)

	m.mu.Lock()
	m.calls[sessionID] = c
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveCalls.Add(ctx, 1)
	}

	// Background context so the transport keeps priming after Start returns.
	if err := transport.SendSystemMessage(callCtx, interviewBriefing(state)); err != nil {
		observe.Logger(ctx).Warn("call briefing failed",
			slog.String("session_id", sessionID), slog.Any("err", err))
	}
	if err := transport.Say(callCtx, pending); err != nil {
		c.teardown()
		m.removeCall(sessionID)
		if m.metrics != nil {
			m.metrics.ActiveCalls.Add(ctx, -1)
		}
		return fmt.Errorf("call: speak opening question: %w", err)
	}

	go c.eventLoop(callCtx)

	observe.Logger(ctx).Info("call started",
		slog.String("session_id", sessionID),
		slog.Int("questions_asked", state.QuestionsAsked),
	)
	return nil
}

// Stop ends the call for sessionID and returns the interruption statistics
// gathered over its lifetime.
func (m *Manager) Stop(ctx context.Context, sessionID string) (interrupt.Stats, error) {
	m.mu.Lock()
	c, ok := m.calls[sessionID]
	if !ok || c == nil {
		m.mu.Unlock()
		return interrupt.Stats{}, ErrNoCall
	}
	delete(m.calls, sessionID)
	m.mu.Unlock()

	c.controller.Terminate(ctx, "call stopped")
	stats := c.controller.Recorder().Snapshot()
	c.teardown()

	if m.metrics != nil {
		m.metrics.ActiveCalls.Add(ctx, -1)
	}
	observe.Logger(ctx).Info("call stopped",
		slog.String("session_id", sessionID),
		slog.Int("interruptions", stats.Total),
		slog.Float64("cancellation_success_rate", stats.SuccessRate),
	)
	return stats, nil
}

// SetMaxInterruptionDelay updates the barge-in latency threshold applied to
// calls started after the call. Non-positive values are ignored.
func (m *Manager) SetMaxInterruptionDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.maxDelay = d
	m.mu.Unlock()
}

// Active reports whether sessionID has a live call.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[sessionID]
	return ok && c != nil
}

// Close stops every live call. Used during server shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.calls))
	for id, c := range m.calls {
		if c != nil {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNoCall) {
			observe.Logger(ctx).Warn("call close error",
				slog.String("session_id", id), slog.Any("err", err))
		}
	}
}

// removeCall clears the session's slot, reporting whether it was still
// present. The caller that claims the slot owns the remaining teardown.
func (m *Manager) removeCall(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[sessionID]; !ok {
		return false
	}
	delete(m.calls, sessionID)
	return true
}

// eventLoop drains transport events into the interruption controller until
// the transport closes its channel, then cleans up the call.
func (c *Call) eventLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.transport.Events():
			if !ok {
				c.remoteHangup(ctx)
				return
			}
			c.controller.HandleEvent(ctx, evt)
		}
	}
}

// remoteHangup handles the far end closing the transport. Exactly one of
// Stop and the event loop claims the slot and runs teardown; if Stop got
// there first the channel close is just its own teardown echoing back.
func (c *Call) remoteHangup(ctx context.Context) {
	if !c.manager.removeCall(c.sessionID) {
		return
	}

	c.controller.Terminate(ctx, "transport closed")
	observe.Logger(ctx).Info("call transport closed",
		slog.String("session_id", c.sessionID))
	c.teardown()
	if c.manager.metrics != nil {
		c.manager.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)
	}
}

// handleUtterance advances the flow with one finalized candidate answer and
// speaks the follow-up. Runs on the event loop goroutine.
func (c *Call) handleUtterance(ctx context.Context, text string) {
	if text == "" {
		return
	}

	res, err := c.manager.orch.NextQuestion(ctx, flow.NextQuestionRequest{
		SessionID:       c.sessionID,
		UserResponse:    text,
		CurrentQuestion: c.currentQuestion(),
	})
	if err != nil {
		if errors.Is(err, flow.ErrSessionBusy) {
			// Another turn is mid-flight; the transcript event raced it.
			observe.Logger(ctx).Debug("utterance dropped, turn in flight",
				slog.String("session_id", c.sessionID))
			return
		}
		observe.Logger(ctx).Error("turn failed",
			slog.String("session_id", c.sessionID), slog.Any("err", err))
		return
	}

	if !res.State.ShouldContinue() {
		if err := c.transport.Say(ctx, closingRemark); err != nil {
			observe.Logger(ctx).Warn("closing remark failed",
				slog.String("session_id", c.sessionID), slog.Any("err", err))
		}
		// Stop acquires the manager lock, so leave the event loop first.
		go func() {
			_, _ = c.manager.Stop(ctx, c.sessionID)
		}()
		return
	}

	c.setCurrentQuestion(res.Question)
	if err := c.transport.Say(ctx, res.Question); err != nil {
		observe.Logger(ctx).Warn("question playback failed",
			slog.String("session_id", c.sessionID), slog.Any("err", err))
	}
}

func (c *Call) currentQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Call) setCurrentQuestion(q string) {
	c.mu.Lock()
	c.current = q
	c.mu.Unlock()
}

// teardown cancels the call context and closes the transport.
func (c *Call) teardown() {
	c.cancel()
	if err := c.transport.Close(); err != nil {
		slog.Warn("call transport close error",
			"session_id", c.sessionID, "err", err)
	}
}

// interviewBriefing renders the background instruction sent to the transport
// when a call starts, so the realtime model knows its interviewer persona.
func interviewBriefing(state flow.State) string {
	return fmt.Sprintf(
		"You are a professional technical interviewer for a %s position. "+
			"Ask exactly the questions you are given, listen without interrupting, "+
			"and keep your delivery concise and neutral. The interview has %d questions in total.",
		state.Role, state.TotalQuestions,
	)
}
