package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxprep/voxprep/pkg/provider/llm"
	llmmock "github.com/voxprep/voxprep/pkg/provider/llm/mock"
)

const validInitialJSON = `{
	"roleQuestion": "What drew you to backend engineering?",
	"stackQuestion": "How does Go's garbage collector affect latency-sensitive services?",
	"generalQuestion": "How would you debug a system you have never seen before?"
}`

func TestInitial_ParsesStructuredTriple(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: validInitialJSON},
	}
	g := NewGenerator(p, nil)

	got := g.Initial(context.Background(), "Backend Engineer", []string{"Go"}, 5)
	if len(got) != 3 {
		t.Fatalf("question count = %d, want 3", len(got))
	}
	if got[0] != "What drew you to backend engineering?" {
		t.Errorf("role question = %q", got[0])
	}
	if !strings.Contains(got[1], "garbage collector") {
		t.Errorf("stack question = %q", got[1])
	}
}

func TestInitial_FallbackTriple(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *llmmock.Provider
	}{
		{"provider error", &llmmock.Provider{CompleteErr: errors.New("timeout")}},
		{"not json", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "here you go!"}}},
		{"empty field", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: `{"roleQuestion": "a?", "stackQuestion": "", "generalQuestion": "c?"}`,
		}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := NewGenerator(tc.p, nil)

			got := g.Initial(context.Background(), "Data Engineer", []string{"Python", "Spark"}, 4)
			want := FallbackInitialQuestions("Data Engineer", []string{"Python", "Spark"})
			if len(got) != 3 {
				t.Fatalf("question count = %d, want 3", len(got))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("question[%d] = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFallbackInitialQuestions_EmptyStack(t *testing.T) {
	t.Parallel()

	got := FallbackInitialQuestions("SRE", nil)
	if len(got) != 3 {
		t.Fatalf("question count = %d, want 3", len(got))
	}
	if !strings.Contains(got[0], "SRE") {
		t.Errorf("role question missing role: %q", got[0])
	}
	if !strings.Contains(got[1], "your primary technology") {
		t.Errorf("stack question missing placeholder: %q", got[1])
	}
}

func TestNext_ReturnsTrimmedQuestion(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "  \"Question: How do you size a connection pool?\"  "},
	}
	g := NewGenerator(p, nil)

	got := g.Next(context.Background(), baseState(), "We used pgbouncer in front of Postgres.")
	if got != "How do you size a connection pool?" {
		t.Errorf("question = %q", got)
	}
}

func TestNext_FallbackOnProviderError(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("timeout")}
	g := NewGenerator(p, nil)

	state := baseState()
	got := g.Next(context.Background(), state, "some answer")
	if got == "" {
		t.Fatal("fallback question is empty")
	}
	if !strings.Contains(got, state.Role) {
		t.Errorf("fallback without keywords should reference the role: %q", got)
	}

	state.Keywords = []string{"goroutines", "sharding"}
	got = g.Next(context.Background(), state, "some answer")
	if !strings.Contains(got, "sharding") {
		t.Errorf("fallback with keywords should reference the latest one: %q", got)
	}
}

func TestNext_PromptCarriesSessionContext(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Next question?"},
	}
	g := NewGenerator(p, nil)

	state := baseState()
	state.CurrentDifficulty = 7
	state.Keywords = []string{"goroutines"}
	state.QuestionHistory = []QuestionRecord{
		{Question: "Explain goroutines.", Difficulty: 5, Category: CategoryRole},
	}

	_ = g.Next(context.Background(), state, "the answer")

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(p.CompleteCalls))
	}
	prompt := p.CompleteCalls[0].Req.Messages[0].Content
	for _, part := range []string{"7", "goroutines", "Explain goroutines.", "the answer"} {
		if !strings.Contains(prompt, part) {
			t.Errorf("prompt missing %q", part)
		}
	}
}

func TestNext_RetriesOnLexicalRepeat(t *testing.T) {
	t.Parallel()

	asked := "How do goroutines differ from operating system threads?"
	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: asked}, // near-identical to history
			{Content: "What consistency guarantees does your database need?"},
		},
	}
	g := NewGenerator(p, nil)

	state := baseState()
	state.QuestionHistory = []QuestionRecord{
		{Question: asked, Difficulty: 5, Category: CategoryStack},
	}

	got := g.Next(context.Background(), state, "they are multiplexed onto threads")
	if got != "What consistency guarantees does your database need?" {
		t.Errorf("question = %q, want the retried one", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("provider calls = %d, want 2 (original + retry)", len(p.CompleteCalls))
	}
}

// stubIndex is a scripted QuestionIndex.
type stubIndex struct {
	similar bool
	err     error
	added   []string
}

func (s *stubIndex) Add(ctx context.Context, sessionID, question string) error {
	s.added = append(s.added, question)
	return nil
}

func (s *stubIndex) Similar(ctx context.Context, sessionID, question string) (bool, error) {
	return s.similar, s.err
}

func TestNext_SemanticIndexTriggersRetry(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "Tell me about channel buffering."},
			{Content: "How do you test concurrent code?"},
		},
	}
	idx := &stubIndex{similar: true}
	g := NewGenerator(p, nil, WithQuestionIndex(idx))

	got := g.Next(context.Background(), baseState(), "an answer")
	// Both attempts read as repeats; the second is accepted anyway.
	if got != "How do you test concurrent code?" {
		t.Errorf("question = %q", got)
	}
	if len(p.CompleteCalls) != 2 {
		t.Errorf("provider calls = %d, want 2", len(p.CompleteCalls))
	}
}

func TestNext_IndexErrorKeepsQuestion(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "A perfectly fine question?"},
	}
	idx := &stubIndex{err: errors.New("db down")}
	g := NewGenerator(p, nil, WithQuestionIndex(idx))

	got := g.Next(context.Background(), baseState(), "an answer")
	if got != "A perfectly fine question?" {
		t.Errorf("question = %q, want it kept despite index error", got)
	}
	if len(p.CompleteCalls) != 1 {
		t.Errorf("provider calls = %d, want 1", len(p.CompleteCalls))
	}
}

func TestTrimQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"plain", "How?", "How?"},
		{"quoted", `"How?"`, "How?"},
		{"labeled", "Question: How?", "How?"},
		{"fenced", "```\nHow?\n```", "How?"},
		{"padded", "   How?   ", "How?"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := TrimQuestion(tc.in); got != tc.want {
				t.Errorf("TrimQuestion(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
