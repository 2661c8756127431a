// Package flow implements the adaptive interview flow engine: per-session
// difficulty state, answer analysis, question generation, and the
// orchestration pipeline that ties them together.
package flow

import (
	"fmt"
	"time"
)

// Difficulty bounds. All difficulty values in the engine live on this scale.
const (
	MinDifficulty = 1
	MaxDifficulty = 10

	// MaxDrift is how far the adaptive logic may move the current difficulty
	// away from the operator-chosen base difficulty, in either direction.
	MaxDrift = 3

	// DefaultTotalQuestions is the target question count when the caller does
	// not specify one.
	DefaultTotalQuestions = 10
)

// QuestionRecord is one entry of a session's question history.
type QuestionRecord struct {
	// Question is the exact text that was asked.
	Question string `json:"question"`

	// AskedAt is when the question was handed to the voice side.
	AskedAt time.Time `json:"askedAt"`

	// Difficulty is the session difficulty at the moment of asking.
	Difficulty int `json:"difficulty"`

	// Category labels the question's origin: "role", "stack", "general", or
	// "followup".
	Category string `json:"category"`
}

// Analysis is the scored assessment of a single candidate answer.
//
// All numeric fields are integers on the [1,10] scale. An Analysis is
// ephemeral: it feeds exactly one Advance call and survives only as
// State.LastAnalysis.
type Analysis struct {
	// Keywords are up to five salient technical terms extracted from the
	// answer.
	Keywords []string `json:"mvpKeywords"`

	// Confidence scores how assured the candidate sounded.
	Confidence int `json:"confidence"`

	// TechnicalAccuracy scores factual correctness.
	TechnicalAccuracy int `json:"technicalAccuracy"`

	// Completeness scores how much of the question the answer covered.
	Completeness int `json:"completeness"`

	// OverallScore is the aggregate judgment that drives streak counting.
	OverallScore int `json:"overallScore"`

	// SuggestedNextDifficulty is the analyzer's recommendation for the next
	// question.
	SuggestedNextDifficulty int `json:"suggestedNextDifficulty"`

	// Reasoning is a short free-text justification of the scores.
	Reasoning string `json:"reasoning"`
}

// State is the per-session record of adaptive interview progress. It is
// owned by the [Orchestrator] and persisted as a whole document keyed by
// SessionID; nothing else writes it.
type State struct {
	// SessionID is the opaque, immutable session key.
	SessionID string `json:"sessionId"`

	// Role is the position being interviewed for. Immutable after init.
	Role string `json:"role"`

	// TechStack is the candidate's declared technology stack. Immutable after
	// init.
	TechStack []string `json:"techStack"`

	// BaseDifficulty is the operator-set starting difficulty. Set once at
	// initialization; it bounds how far CurrentDifficulty may drift.
	BaseDifficulty int `json:"baseDifficulty"`

	// CurrentDifficulty is the live difficulty, mutated only by [Advance].
	// Invariant: |CurrentDifficulty - BaseDifficulty| <= MaxDrift.
	CurrentDifficulty int `json:"currentDifficulty"`

	// ConsecutiveCorrect counts pass rounds since the last non-pass round or
	// difficulty step-up. At most one of ConsecutiveCorrect and
	// ConsecutiveIncorrect is nonzero.
	ConsecutiveCorrect int `json:"consecutiveCorrect"`

	// ConsecutiveIncorrect counts fail rounds since the last non-fail round or
	// difficulty step-down.
	ConsecutiveIncorrect int `json:"consecutiveIncorrect"`

	// TotalQuestions is the fixed target question count for the session.
	TotalQuestions int `json:"totalQuestions"`

	// QuestionsAsked counts completed question-answer rounds. Monotonically
	// non-decreasing; incremented exactly once per Advance.
	QuestionsAsked int `json:"questionsAsked"`

	// Keywords is the deduplicated, append-only accumulation of analysis
	// keywords across the session.
	Keywords []string `json:"mvpKeywords"`

	// QuestionHistory is the append-only ordered record of every question asked.
	QuestionHistory []QuestionRecord `json:"questionHistory"`

	// LastAnalysis is the most recent answer analysis, overwritten each round.
	// Nil until the first answer has been analyzed.
	LastAnalysis *Analysis `json:"lastAnalysis,omitempty"`

	// CreatedAt and UpdatedAt bracket the record's lifetime. Maintained by the
	// orchestrator, not by Advance.
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of s. Advance operates on clones so the caller's
// state is never mutated mid-pipeline.
func (s State) Clone() State {
	out := s
	out.TechStack = append([]string(nil), s.TechStack...)
	out.Keywords = append([]string(nil), s.Keywords...)
	out.QuestionHistory = append([]QuestionRecord(nil), s.QuestionHistory...)
	if s.LastAnalysis != nil {
		a := *s.LastAnalysis
		a.Keywords = append([]string(nil), s.LastAnalysis.Keywords...)
		out.LastAnalysis = &a
	}
	return out
}

// ShouldContinue reports whether the session still has questions left to ask.
func (s State) ShouldContinue() bool {
	return s.QuestionsAsked < s.TotalQuestions
}

// Validate checks the structural invariants that must hold for any persisted
// state. It is called on records read back from the store to catch documents
// written by incompatible versions.
func (s State) Validate() error {
	if s.SessionID == "" {
		return &ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}
	if s.BaseDifficulty < MinDifficulty || s.BaseDifficulty > MaxDifficulty {
		return &ValidationError{
			Field:  "baseDifficulty",
			Reason: fmt.Sprintf("must be in [%d,%d], got %d", MinDifficulty, MaxDifficulty, s.BaseDifficulty),
		}
	}
	if s.CurrentDifficulty < MinDifficulty || s.CurrentDifficulty > MaxDifficulty {
		return &ValidationError{
			Field:  "currentDifficulty",
			Reason: fmt.Sprintf("must be in [%d,%d], got %d", MinDifficulty, MaxDifficulty, s.CurrentDifficulty),
		}
	}
	if s.ConsecutiveCorrect > 0 && s.ConsecutiveIncorrect > 0 {
		return &ValidationError{
			Field:  "consecutiveCorrect",
			Reason: "correct and incorrect streaks must not both be nonzero",
		}
	}
	if s.TotalQuestions <= 0 {
		return &ValidationError{Field: "totalQuestions", Reason: "must be positive"}
	}
	return nil
}
