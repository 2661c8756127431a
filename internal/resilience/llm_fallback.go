package resilience

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxprep/voxprep/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across backends, so
// question generation and answer analysis keep producing output when the
// preferred backend degrades. Each backend carries its own circuit breaker.
//
// Only completion traffic participates in failover. Token counting and
// capability metadata are answered by the primary directly: they are local
// arithmetic on the primary's tokenizer and model card, and routing them
// through a fallback would silently switch tokenizers mid-interview.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps primary as the preferred interview backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers a backend tried when the ones before it fail.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete routes the request to the first admitting backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion routes the request to the first admitting backend and
// returns its chunk stream. Failover covers only stream establishment;
// mid-stream errors stay with the caller.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens answers from the primary's tokenizer.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.entries[0].value.CountTokens(messages)
}

// Capabilities returns the primary backend's model capabilities.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.entries[0].value.Capabilities()
}

// Ready reports whether at least one backend is accepting traffic, for the
// readiness probe. It inspects breaker state only and sends no request.
func (f *LLMFallback) Ready() error {
	suspended := f.group.Suspended()
	if len(suspended) < len(f.group.entries) {
		return nil
	}
	return fmt.Errorf("all generation backends suspended: %s", strings.Join(suspended, ", "))
}
