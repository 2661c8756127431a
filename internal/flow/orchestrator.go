package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/voxprep/voxprep/internal/observe"
)

// Orchestrator owns the per-session interview lifecycle: initialize, advance
// one turn at a time, report status, and tear down. It ties together the
// analyzer, the difficulty cascade, the question generator, and the store.
//
// Mutating operations on the same session are serialised; a second mutation
// arriving while one is in flight fails with [ErrSessionBusy]. Operations on
// different sessions proceed independently.
type Orchestrator struct {
	store        Store
	analyzer     *Analyzer
	generator    *Generator
	metrics      *observe.Metrics
	locks        *sessionLocks
	now          func() time.Time
	defaultTotal atomic.Int64
}

// OrchestratorOption customises an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithDefaultTotalQuestions overrides the question count applied when an
// InitializeRequest leaves TotalQuestions zero.
func WithDefaultTotalQuestions(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.defaultTotal.Store(int64(n))
		}
	}
}

// SetDefaultTotalQuestions updates the question-count default applied to
// sessions created after the call. Existing sessions keep their totals.
// Safe for concurrent use; non-positive values are ignored.
func (o *Orchestrator) SetDefaultTotalQuestions(n int) {
	if n > 0 {
		o.defaultTotal.Store(int64(n))
	}
}

// NewOrchestrator constructs an Orchestrator. metrics may be nil.
func NewOrchestrator(store Store, analyzer *Analyzer, generator *Generator, metrics *observe.Metrics, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		analyzer:  analyzer,
		generator: generator,
		metrics:   metrics,
		locks:     newSessionLocks(),
		now:       time.Now,
	}
	o.defaultTotal.Store(DefaultTotalQuestions)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitializeRequest carries the parameters for a new interview session.
type InitializeRequest struct {
	SessionID      string
	Role           string
	TechStack      []string
	BaseDifficulty int

	// TotalQuestions defaults to [DefaultTotalQuestions] when zero.
	TotalQuestions int
}

// Initialize creates a fresh session, generates the opening three questions,
// records them in the history, and persists the result. The returned question
// slice always has three entries.
func (o *Orchestrator) Initialize(ctx context.Context, req InitializeRequest) (State, []string, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return State{}, nil, &ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Role) == "" {
		return State{}, nil, &ValidationError{Field: "role", Reason: "must not be empty"}
	}
	if req.BaseDifficulty < MinDifficulty || req.BaseDifficulty > MaxDifficulty {
		return State{}, nil, &ValidationError{
			Field:  "baseDifficulty",
			Reason: fmt.Sprintf("must be in [%d,%d], got %d", MinDifficulty, MaxDifficulty, req.BaseDifficulty),
		}
	}
	total := req.TotalQuestions
	if total == 0 {
		total = int(o.defaultTotal.Load())
	}
	if total < 0 {
		return State{}, nil, &ValidationError{Field: "totalQuestions", Reason: "must be positive"}
	}

	if !o.locks.tryAcquire(req.SessionID) {
		return State{}, nil, ErrSessionBusy
	}
	defer o.locks.release(req.SessionID)

	questions := o.generator.Initial(ctx, req.Role, req.TechStack, req.BaseDifficulty)

	now := o.now().UTC()
	state := State{
		SessionID:         req.SessionID,
		Role:              req.Role,
		TechStack:         append([]string(nil), req.TechStack...),
		BaseDifficulty:    req.BaseDifficulty,
		CurrentDifficulty: req.BaseDifficulty,
		TotalQuestions:    total,
		Keywords:          []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for i, q := range questions {
		state.QuestionHistory = append(state.QuestionHistory, QuestionRecord{
			Question:   q,
			AskedAt:    now,
			Difficulty: req.BaseDifficulty,
			Category:   initialCategories[i],
		})
	}
	state.QuestionsAsked = len(questions)

	if err := o.store.Put(ctx, state); err != nil {
		return State{}, nil, &PersistenceError{Op: "put", Err: err}
	}
	if o.metrics != nil {
		o.metrics.ActiveFlows.Add(ctx, 1)
	}
	o.recordAsked(ctx, req.SessionID, questions...)

	observe.Logger(ctx).Info("interview session initialized",
		slog.String("session_id", req.SessionID),
		slog.String("role", req.Role),
		slog.Int("base_difficulty", req.BaseDifficulty),
		slog.Int("total_questions", total),
	)
	return state, questions, nil
}

// initialCategories maps the opening triple's positions to their categories.
var initialCategories = [...]string{CategoryRole, CategoryStack, CategoryGeneral}

// NextQuestionRequest carries one completed turn: the question that was asked
// and the candidate's finalized answer.
type NextQuestionRequest struct {
	SessionID       string
	UserResponse    string
	CurrentQuestion string
}

// NextQuestionResult is the outcome of one advanced turn.
type NextQuestionResult struct {
	Question string
	Analysis Analysis
	State    State
}

// NextQuestion runs one full interview turn: analyze the answer, advance the
// difficulty, persist, generate the follow-up, record it in the history, and
// persist again. Both writes replace the full session document, so a retried
// second write cannot corrupt the first.
//
// Generation failures degrade to fallbacks and never surface; persistence
// failures return [PersistenceError] with the prior stored state untouched.
func (o *Orchestrator) NextQuestion(ctx context.Context, req NextQuestionRequest) (NextQuestionResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return NextQuestionResult{}, &ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}

	if !o.locks.tryAcquire(req.SessionID) {
		return NextQuestionResult{}, ErrSessionBusy
	}
	defer o.locks.release(req.SessionID)

	start := o.now()

	state, err := o.store.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NextQuestionResult{}, ErrNotFound
		}
		return NextQuestionResult{}, &PersistenceError{Op: "get", Err: err}
	}

	analysis, err := o.analyzer.Analyze(ctx, AnalyzeRequest{
		Answer:            req.UserResponse,
		Question:          req.CurrentQuestion,
		Role:              state.Role,
		TechStack:         state.TechStack,
		CurrentDifficulty: state.CurrentDifficulty,
	})
	if err != nil {
		return NextQuestionResult{}, err
	}

	next := Advance(state, analysis)
	next.UpdatedAt = o.now().UTC()
	if err := o.store.Put(ctx, next); err != nil {
		return NextQuestionResult{}, &PersistenceError{Op: "put", Err: err}
	}

	question := o.generator.Next(ctx, next, req.UserResponse)

	next.QuestionHistory = append(next.QuestionHistory, QuestionRecord{
		Question:   question,
		AskedAt:    o.now().UTC(),
		Difficulty: next.CurrentDifficulty,
		Category:   CategoryFollowup,
	})
	next.UpdatedAt = o.now().UTC()
	if err := o.store.Put(ctx, next); err != nil {
		return NextQuestionResult{}, &PersistenceError{Op: "put", Err: err}
	}
	o.recordAsked(ctx, req.SessionID, question)

	if o.metrics != nil {
		o.metrics.FlowAdvanceDuration.Record(ctx, o.now().Sub(start).Seconds())
	}
	observe.Logger(ctx).Info("interview turn advanced",
		slog.String("session_id", req.SessionID),
		slog.Int("difficulty", next.CurrentDifficulty),
		slog.Int("questions_asked", next.QuestionsAsked),
		slog.Int("overall_score", analysis.OverallScore),
	)
	return NextQuestionResult{Question: question, Analysis: analysis, State: next}, nil
}

// Analyze scores a single answer without advancing any session state.
func (o *Orchestrator) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	return o.analyzer.Analyze(ctx, req)
}

// Status returns the current state for sessionID.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (State, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return State{}, ErrNotFound
		}
		return State{}, &PersistenceError{Op: "get", Err: err}
	}
	return state, nil
}

// Delete removes the session for sessionID.
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	if !o.locks.tryAcquire(sessionID) {
		return ErrSessionBusy
	}
	defer o.locks.release(sessionID)

	if err := o.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &PersistenceError{Op: "delete", Err: err}
	}
	if o.metrics != nil {
		o.metrics.ActiveFlows.Add(ctx, -1)
	}
	observe.Logger(ctx).Info("interview session deleted",
		slog.String("session_id", sessionID))
	return nil
}

// recordAsked stores questions in the semantic repeat index, best effort.
func (o *Orchestrator) recordAsked(ctx context.Context, sessionID string, questions ...string) {
	if o.generator.index == nil {
		return
	}
	for _, q := range questions {
		if err := o.generator.index.Add(ctx, sessionID, q); err != nil {
			observe.Logger(ctx).Warn("question index update failed",
				slog.String("session_id", sessionID),
				slog.Any("err", err))
		}
	}
}

// Summarize renders a human-readable progress report for state.
func Summarize(state State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Interview progress for %s (%s)\n", state.SessionID, state.Role)
	fmt.Fprintf(&sb, "Questions asked: %d/%d\n", state.QuestionsAsked, state.TotalQuestions)

	if len(state.QuestionHistory) > 0 {
		difficulties := make([]string, len(state.QuestionHistory))
		for i, rec := range state.QuestionHistory {
			difficulties[i] = strconv.Itoa(rec.Difficulty)
		}
		fmt.Fprintf(&sb, "Difficulty progression: %s\n", strings.Join(difficulties, " -> "))
	}
	fmt.Fprintf(&sb, "Difficulty: %d (base %d)\n", state.CurrentDifficulty, state.BaseDifficulty)
	if len(state.Keywords) > 0 {
		fmt.Fprintf(&sb, "Topics covered: %s\n", strings.Join(state.Keywords, ", "))
	}
	fmt.Fprintf(&sb, "Current correct streak: %d\n", state.ConsecutiveCorrect)
	return sb.String()
}
