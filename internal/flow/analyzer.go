package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voxprep/voxprep/internal/observe"
	"github.com/voxprep/voxprep/pkg/provider/llm"
)

// FallbackReasoning is the Reasoning text of the degraded analysis returned
// when the generation backend fails or produces unusable output.
const FallbackReasoning = "Unable to analyze response properly"

// neutralScore is the midpoint score used for every numeric field of a
// fallback analysis.
const neutralScore = 5

// analysisSchema constrains what the generation backend must return before an
// analysis is accepted. Anything that fails validation is discarded in favour
// of the deterministic fallback.
const analysisSchema = `{
	"type": "object",
	"required": [
		"mvpKeywords", "confidence", "technicalAccuracy",
		"completeness", "overallScore", "suggestedNextDifficulty"
	],
	"properties": {
		"mvpKeywords": {
			"type": "array",
			"items": {"type": "string"}
		},
		"confidence": {"type": "integer"},
		"technicalAccuracy": {"type": "integer"},
		"completeness": {"type": "integer"},
		"overallScore": {"type": "integer"},
		"suggestedNextDifficulty": {"type": "integer"},
		"reasoning": {"type": "string"}
	}
}`

var compiledAnalysisSchema = jsonschema.MustCompileString("analysis.json", analysisSchema)

// AnalyzeRequest carries one candidate answer to be scored against the
// question it answered.
type AnalyzeRequest struct {
	// Answer is the candidate's finalized utterance. Must be non-empty.
	Answer string

	// Question is the question that was asked. Must be non-empty.
	Question string

	// Role and TechStack give the analyzer interview context.
	Role      string
	TechStack []string

	// CurrentDifficulty is the session difficulty the question was asked at.
	// Must be in [MinDifficulty, MaxDifficulty].
	CurrentDifficulty int
}

// validate rejects structurally unusable requests before any network call.
func (r AnalyzeRequest) validate() error {
	if strings.TrimSpace(r.Answer) == "" {
		return &ValidationError{Field: "userResponse", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.Question) == "" {
		return &ValidationError{Field: "currentQuestion", Reason: "must not be empty"}
	}
	if r.CurrentDifficulty < MinDifficulty || r.CurrentDifficulty > MaxDifficulty {
		return &ValidationError{
			Field:  "currentDifficulty",
			Reason: fmt.Sprintf("must be in [%d,%d], got %d", MinDifficulty, MaxDifficulty, r.CurrentDifficulty),
		}
	}
	return nil
}

// Analyzer scores candidate answers using an LLM backend.
//
// Analyzer is stateless apart from its dependencies and safe for concurrent
// use. Generation failures never surface to callers: every failure mode
// collapses to the neutral fallback analysis, because an interview must keep
// moving even when the scoring backend misbehaves.
type Analyzer struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewAnalyzer constructs an Analyzer on the given generation backend.
// metrics may be nil, in which case fallbacks are only logged.
func NewAnalyzer(provider llm.Provider, metrics *observe.Metrics) *Analyzer {
	return &Analyzer{llm: provider, metrics: metrics}
}

// Analyze scores one answer. The only returned errors are input validation
// failures; generation-side problems (transport errors, malformed JSON,
// schema violations) all degrade to [FallbackAnalysis].
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	if err := req.validate(); err != nil {
		return Analysis{}, err
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analysisSystemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildAnalysisPrompt(req)},
		},
		Temperature: 0.2,
		MaxTokens:   600,
	})
	if err != nil {
		return a.fallback(ctx, req.CurrentDifficulty, "completion failed", err), nil
	}
	if resp == nil || resp.Content == "" {
		return a.fallback(ctx, req.CurrentDifficulty, "empty completion", nil), nil
	}

	analysis, err := parseAnalysis(resp.Content)
	if err != nil {
		return a.fallback(ctx, req.CurrentDifficulty, "unparseable completion", err), nil
	}

	clampAnalysis(&analysis)
	return analysis, nil
}

// FallbackAnalysis is the canonical degraded-mode analysis: every score at the
// neutral midpoint, no keywords, and the suggested difficulty pinned to the
// current one so the blend step keeps the session where it is.
func FallbackAnalysis(currentDifficulty int) Analysis {
	return Analysis{
		Keywords:                []string{},
		Confidence:              neutralScore,
		TechnicalAccuracy:       neutralScore,
		Completeness:            neutralScore,
		OverallScore:            neutralScore,
		SuggestedNextDifficulty: currentDifficulty,
		Reasoning:               FallbackReasoning,
	}
}

// fallback logs and counts a degraded analysis before returning it.
func (a *Analyzer) fallback(ctx context.Context, currentDifficulty int, reason string, err error) Analysis {
	observe.Logger(ctx).Warn("analysis degraded to neutral fallback",
		slog.String("reason", reason),
		slog.Any("err", err),
	)
	if a.metrics != nil {
		a.metrics.RecordAnalysisFallback(ctx, reason)
	}
	return FallbackAnalysis(currentDifficulty)
}

// parseAnalysis strips markdown fences, decodes the JSON object, and checks
// it against the analysis schema.
func parseAnalysis(raw string) (Analysis, error) {
	cleaned := StripCodeFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if err := compiledAnalysisSchema.Validate(doc); err != nil {
		return Analysis{}, fmt.Errorf("analysis shape: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis fields: %w", err)
	}
	return analysis, nil
}

// clampAnalysis forces every numeric field onto the [1,10] scale and trims
// keyword whitespace. The schema guarantees types, not ranges.
func clampAnalysis(a *Analysis) {
	a.Confidence = clamp(a.Confidence, MinDifficulty, MaxDifficulty)
	a.TechnicalAccuracy = clamp(a.TechnicalAccuracy, MinDifficulty, MaxDifficulty)
	a.Completeness = clamp(a.Completeness, MinDifficulty, MaxDifficulty)
	a.OverallScore = clamp(a.OverallScore, MinDifficulty, MaxDifficulty)
	a.SuggestedNextDifficulty = clamp(a.SuggestedNextDifficulty, MinDifficulty, MaxDifficulty)

	kept := a.Keywords[:0]
	for _, k := range a.Keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			kept = append(kept, k)
		}
	}
	a.Keywords = kept
}

// StripCodeFences removes a surrounding markdown code fence (``` or ```json)
// from s, if present, and trims whitespace. Generation backends wrap JSON in
// fences often enough that every parse site must tolerate it.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const analysisSystemPrompt = `You are an expert technical interviewer scoring one spoken answer. Respond with a single JSON object and nothing else. Do not wrap it in markdown.`

// buildAnalysisPrompt renders the structured scoring request.
func buildAnalysisPrompt(req AnalyzeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", req.Role)
	fmt.Fprintf(&sb, "Tech stack: %s\n", strings.Join(req.TechStack, ", "))
	fmt.Fprintf(&sb, "Current difficulty (1-10): %d\n\n", req.CurrentDifficulty)
	fmt.Fprintf(&sb, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&sb, "Candidate answer: %s\n\n", req.Answer)
	sb.WriteString(`Score the answer. Return exactly this JSON shape:
{
  "mvpKeywords": ["3 to 5 salient technical terms from the answer"],
  "confidence": 1-10,
  "technicalAccuracy": 1-10,
  "completeness": 1-10,
  "overallScore": 1-10,
  "suggestedNextDifficulty": 1-10,
  "reasoning": "one or two sentences"
}`)
	return sb.String()
}
