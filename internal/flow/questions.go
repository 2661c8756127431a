package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/provider/llm"
)

// Question categories recorded in [QuestionRecord.Category].
const (
	CategoryRole     = "role"
	CategoryStack    = "stack"
	CategoryGeneral  = "general"
	CategoryFollowup = "followup"
)

// defaultSimilarityThreshold is the Jaro-Winkler score above which a freshly
// generated question counts as a repeat of one already asked.
const defaultSimilarityThreshold = 0.92

// QuestionIndex is an optional semantic repeat guard. Implementations store
// embeddings of asked questions and answer nearest-neighbour queries; the
// generator uses it in addition to the lexical check against history.
type QuestionIndex interface {
	// Add stores question under sessionID for later similarity lookups.
	Add(ctx context.Context, sessionID, question string) error

	// Similar reports whether question is semantically close to one already
	// stored under sessionID.
	Similar(ctx context.Context, sessionID, question string) (bool, error)
}

// Generator produces interview questions through an LLM backend.
//
// Like [Analyzer], it never surfaces generation failures: every failure mode
// collapses to a deterministic fallback question so the interview keeps
// moving.
type Generator struct {
	llm       llm.Provider
	metrics   *observe.Metrics
	index     QuestionIndex
	threshold float64
}

// GeneratorOption customises a [Generator].
type GeneratorOption func(*Generator)

// WithQuestionIndex attaches a semantic repeat guard.
func WithQuestionIndex(idx QuestionIndex) GeneratorOption {
	return func(g *Generator) { g.index = idx }
}

// WithSimilarityThreshold overrides the lexical repeat threshold.
func WithSimilarityThreshold(t float64) GeneratorOption {
	return func(g *Generator) { g.threshold = t }
}

// NewGenerator constructs a Generator. metrics may be nil.
func NewGenerator(provider llm.Provider, metrics *observe.Metrics, opts ...GeneratorOption) *Generator {
	g := &Generator{
		llm:       provider,
		metrics:   metrics,
		threshold: defaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// initialQuestionSet is the JSON shape requested from the backend for the
// opening round.
type initialQuestionSet struct {
	RoleQuestion    string `json:"roleQuestion"`
	StackQuestion   string `json:"stackQuestion"`
	GeneralQuestion string `json:"generalQuestion"`
}

// Initial generates the opening three questions in one structured call: one
// role-specific, one tech-stack-specific, and one general problem-solving
// question, in that order. On any failure it returns the deterministic
// fallback triple; it never returns an error.
func (g *Generator) Initial(ctx context.Context, role string, techStack []string, difficulty int) []string {
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: questionSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildInitialPrompt(role, techStack, difficulty)},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil || resp == nil || resp.Content == "" {
		observe.Logger(ctx).Warn("initial question generation degraded to fallback",
			slog.Any("err", err))
		return FallbackInitialQuestions(role, techStack)
	}

	var set initialQuestionSet
	if err := json.Unmarshal([]byte(StripCodeFences(resp.Content)), &set); err != nil {
		observe.Logger(ctx).Warn("initial question set unparseable",
			slog.Any("err", err))
		return FallbackInitialQuestions(role, techStack)
	}

	questions := []string{
		TrimQuestion(set.RoleQuestion),
		TrimQuestion(set.StackQuestion),
		TrimQuestion(set.GeneralQuestion),
	}
	for _, q := range questions {
		if q == "" {
			return FallbackInitialQuestions(role, techStack)
		}
	}

	if g.metrics != nil {
		g.metrics.RecordQuestionAsked(ctx, CategoryRole)
		g.metrics.RecordQuestionAsked(ctx, CategoryStack)
		g.metrics.RecordQuestionAsked(ctx, CategoryGeneral)
	}
	return questions
}

// FallbackInitialQuestions is the deterministic opening triple used when the
// generation backend cannot produce a valid set.
func FallbackInitialQuestions(role string, techStack []string) []string {
	tech := "your primary technology"
	if len(techStack) > 0 {
		tech = techStack[0]
	}
	return []string{
		fmt.Sprintf("Tell me about your experience working as a %s.", role),
		fmt.Sprintf("Describe a challenging problem you solved using %s.", tech),
		"How do you typically approach learning a new technology?",
	}
}

// Next generates one follow-up question conditioned on the session's role,
// tech stack, current difficulty, accumulated keywords, and full question
// history. On any failure it returns the deterministic fallback; it never
// returns an error.
func (g *Generator) Next(ctx context.Context, state State, lastAnswer string) string {
	question := g.generateOnce(ctx, state, lastAnswer, "")
	if question == "" {
		return g.fallbackNext(ctx, state)
	}

	repeat, err := g.isRepeat(ctx, state, question)
	if err != nil {
		observe.Logger(ctx).Warn("repeat check failed, keeping question",
			slog.Any("err", err))
		repeat = false
	}
	if repeat {
		// One retry with an explicit avoid hint. If that still reads as a
		// repeat it is accepted anyway: moving on beats stalling the interview.
		if retry := g.generateOnce(ctx, state, lastAnswer, question); retry != "" {
			question = retry
		}
	}

	if g.metrics != nil {
		g.metrics.RecordQuestionAsked(ctx, CategoryFollowup)
	}
	return question
}

// generateOnce performs a single generation attempt. avoid, when non-empty,
// names a question the backend must steer away from. Returns "" on failure.
func (g *Generator) generateOnce(ctx context.Context, state State, lastAnswer, avoid string) string {
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: questionSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildNextPrompt(state, lastAnswer, avoid)},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil || resp == nil {
		observe.Logger(ctx).Warn("follow-up generation failed",
			slog.String("session_id", state.SessionID),
			slog.Any("err", err))
		return ""
	}
	return TrimQuestion(resp.Content)
}

// isRepeat checks question against the lexical history and, when an index is
// attached, the semantic store.
func (g *Generator) isRepeat(ctx context.Context, state State, question string) (bool, error) {
	lower := strings.ToLower(question)
	for _, rec := range state.QuestionHistory {
		if matchr.JaroWinkler(lower, strings.ToLower(rec.Question), false) >= g.threshold {
			return true, nil
		}
	}
	if g.index == nil {
		return false, nil
	}
	return g.index.Similar(ctx, state.SessionID, question)
}

// fallbackNext is the deterministic follow-up used when generation fails.
func (g *Generator) fallbackNext(ctx context.Context, state State) string {
	if g.metrics != nil {
		g.metrics.RecordQuestionAsked(ctx, CategoryFollowup)
	}
	if len(state.Keywords) > 0 {
		return fmt.Sprintf("Can you go deeper into %s and how you have applied it in practice?",
			state.Keywords[len(state.Keywords)-1])
	}
	return fmt.Sprintf("Can you walk me through a recent project you worked on as a %s?", state.Role)
}

// TrimQuestion normalises raw generation output into a single question line:
// strips code fences, surrounding quotes, and a leading "Question:" label.
func TrimQuestion(s string) string {
	s = StripCodeFences(s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	if rest, ok := strings.CutPrefix(s, "Question:"); ok {
		s = rest
	}
	return strings.TrimSpace(s)
}

const questionSystemPrompt = `You are an expert technical interviewer for a voice-based mock interview. Questions must be answerable out loud, without writing code. Keep each question to at most two sentences.`

// buildInitialPrompt renders the structured opening-round request.
func buildInitialPrompt(role string, techStack []string, difficulty int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", role)
	fmt.Fprintf(&sb, "Tech stack: %s\n", strings.Join(techStack, ", "))
	fmt.Fprintf(&sb, "Difficulty (1-10): %d\n\n", difficulty)
	sb.WriteString(`Produce the three opening questions for this interview. Return exactly this JSON shape and nothing else:
{
  "roleQuestion": "a question about the candidate's experience in the role",
  "stackQuestion": "a question specific to the tech stack",
  "generalQuestion": "a general problem-solving question"
}`)
	return sb.String()
}

// buildNextPrompt renders the follow-up request with full session context.
func buildNextPrompt(state State, lastAnswer, avoid string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", state.Role)
	fmt.Fprintf(&sb, "Tech stack: %s\n", strings.Join(state.TechStack, ", "))
	fmt.Fprintf(&sb, "Target difficulty (1-10): %d\n", state.CurrentDifficulty)
	if len(state.Keywords) > 0 {
		fmt.Fprintf(&sb, "Topics the candidate has mentioned: %s\n", strings.Join(state.Keywords, ", "))
	}
	if len(state.QuestionHistory) > 0 {
		sb.WriteString("Questions already asked (do not repeat any of these):\n")
		for _, rec := range state.QuestionHistory {
			fmt.Fprintf(&sb, "- %s\n", rec.Question)
		}
	}
	if lastAnswer != "" {
		fmt.Fprintf(&sb, "\nCandidate's last answer: %s\n", lastAnswer)
	}
	if avoid != "" {
		fmt.Fprintf(&sb, "\nToo similar to an earlier question, pick a different angle: %s\n", avoid)
	}
	sb.WriteString("\nAsk the single next interview question at the target difficulty. Return only the question text.")
	return sb.String()
}
