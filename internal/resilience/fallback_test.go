package resilience

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/provider/llm"
	llmmock "github.com/voxprep/voxprep/pkg/provider/llm/mock"
)

// genBackend is the shape the failover group routes in production: a
// question-generation call that either yields text or fails.
type genBackend struct {
	name string
	err  error
}

func (b *genBackend) generate() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return "Walk me through a goroutine leak you have debugged. [" + b.name + "]", nil
}

func newGenGroup(primary, fallback *genBackend) *FallbackGroup[*genBackend] {
	fg := NewFallbackGroup(primary, primary.name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback(fallback.name, fallback)
	return fg
}

func TestFallbackGroup_PrefersPrimary(t *testing.T) {
	t.Parallel()

	openai := &genBackend{name: "openai"}
	ollama := &genBackend{name: "ollama"}
	fg := newGenGroup(openai, ollama)

	var served string
	err := fg.Execute(func(b *genBackend) error {
		served = b.name
		_, genErr := b.generate()
		return genErr
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if served != "openai" {
		t.Errorf("served by %q, want the primary", served)
	}
}

func TestFallbackGroup_FailsOverWhenPrimaryErrors(t *testing.T) {
	t.Parallel()

	openai := &genBackend{name: "openai", err: errBackend}
	ollama := &genBackend{name: "ollama"}
	fg := newGenGroup(openai, ollama)

	question, err := ExecuteWithResult(fg, func(b *genBackend) (string, error) {
		return b.generate()
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if want := "Walk me through a goroutine leak you have debugged. [ollama]"; question != want {
		t.Errorf("question = %q, want the fallback's output", question)
	}
}

func TestFallbackGroup_AllBackendsFailing(t *testing.T) {
	t.Parallel()

	openai := &genBackend{name: "openai", err: errBackend}
	ollama := &genBackend{name: "ollama", err: errors.New("connection refused")}
	fg := newGenGroup(openai, ollama)

	_, err := ExecuteWithResult(fg, func(b *genBackend) (string, error) {
		return b.generate()
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsSuspendedBackend(t *testing.T) {
	t.Parallel()

	openai := &genBackend{name: "openai", err: errBackend}
	ollama := &genBackend{name: "ollama"}
	fg := newGenGroup(openai, ollama)

	// Trip the primary's breaker, then verify later calls never touch it.
	for i := 0; i < 2; i++ {
		if err := fg.Execute(func(b *genBackend) error { _, e := b.generate(); return e }); err != nil {
			t.Fatalf("warmup call %d: %v", i+1, err)
		}
	}
	if got := fg.Suspended(); !reflect.DeepEqual(got, []string{"openai"}) {
		t.Fatalf("Suspended() = %v, want [openai]", got)
	}

	primaryCalls := 0
	err := fg.Execute(func(b *genBackend) error {
		if b.name == "openai" {
			primaryCalls++
		}
		_, genErr := b.generate()
		return genErr
	})
	if err != nil {
		t.Fatalf("Execute with suspended primary: %v", err)
	}
	if primaryCalls != 0 {
		t.Errorf("suspended primary was called %d times", primaryCalls)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newGenGroup(&genBackend{name: "openai"}, &genBackend{name: "ollama"})
	if got := fg.Names(); !reflect.DeepEqual(got, []string{"openai", "ollama"}) {
		t.Errorf("Names() = %v, want routing order [openai ollama]", got)
	}
}

// ─── LLM failover wrapper ───

func TestLLMFallback_CompleteFailsOver(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errBackend}
	backup := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "How does the scheduler preempt a goroutine?"},
	}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "interviewer"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "How does the scheduler preempt a goroutine?" {
		t.Errorf("content = %q, want the fallback's completion", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 {
		t.Errorf("primary Complete calls = %d, want 1", len(primary.CompleteCalls))
	}
}

func TestLLMFallback_TokenCountingStaysOnPrimary(t *testing.T) {
	t.Parallel()

	// Token budgets are computed against the primary's tokenizer. A fallback
	// with a different tokenizer must never answer CountTokens, even when the
	// primary's completion traffic is failing.
	primary := &llmmock.Provider{CompleteErr: errBackend, TokenCount: 42}
	backup := &llmmock.Provider{TokenCount: 9000}

	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", backup)

	n, err := f.CountTokens([]llm.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 42 {
		t.Errorf("token count = %d, want the primary's 42", n)
	}
}

func TestLLMFallback_CapabilitiesFromPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000}}
	f := NewLLMFallback(primary, "openai", FallbackConfig{})
	f.AddFallback("ollama", &llmmock.Provider{})

	if got := f.Capabilities().ContextWindow; got != 128000 {
		t.Errorf("ContextWindow = %d, want the primary's 128000", got)
	}
}

func TestLLMFallback_Ready(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errBackend}
	f := NewLLMFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	if err := f.Ready(); err != nil {
		t.Fatalf("Ready before any traffic: %v", err)
	}

	// One failure suspends the only backend; readiness now reports it.
	if _, err := f.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
	err := f.Ready()
	if err == nil {
		t.Fatal("Ready should fail with every backend suspended")
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("Ready error %q should name the suspended backend", err)
	}
}
