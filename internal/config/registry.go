package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxprep/voxprep/internal/resilience"
	"github.com/voxprep/voxprep/pkg/provider/embeddings"
	embopenai "github.com/voxprep/voxprep/pkg/provider/embeddings/openai"
	"github.com/voxprep/voxprep/pkg/provider/llm"
	"github.com/voxprep/voxprep/pkg/provider/llm/anyllm"
	llmopenai "github.com/voxprep/voxprep/pkg/provider/llm/openai"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// DefaultRegistry returns a [Registry] with all built-in providers registered:
// the native OpenAI client under "openai", the any-llm-go backends under their
// respective names, and the OpenAI embeddings client.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterLLM("openai", func(entry ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// Everything any-llm-go speaks, keyed by its backend name.
	for _, name := range ValidProviderNames["llm"] {
		if name == "openai" {
			continue // native client registered above
		}
		backend := name
		r.RegisterLLM(backend, func(entry ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	r.RegisterEmbeddings("openai", func(entry ProviderEntry) (embeddings.Provider, error) {
		var opts []embopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(entry.BaseURL))
		}
		if dims, ok := intOption(entry.Options, "dimensions"); ok {
			opts = append(opts, embopenai.WithDimensions(dims))
		}
		return embopenai.New(entry.APIKey, entry.Model, opts...)
	})

	return r
}

// intOption reads an integer from a provider's options map. YAML decoding
// may yield int or float64 depending on how the number was written.
func intOption(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// BuildLLM constructs the generation backend described by cfg: the primary
// provider, wrapped in a circuit-breaker failover group when fallbacks are
// configured. With no fallbacks the primary is returned unwrapped.
func (r *Registry) BuildLLM(cfg ProvidersConfig) (llm.Provider, error) {
	primary, err := r.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("config: build llm primary: %w", err)
	}
	if len(cfg.LLMFallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{})
	for i, entry := range cfg.LLMFallbacks {
		fb, err := r.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("config: build llm fallback %d (%s): %w", i, entry.Name, err)
		}
		group.AddFallback(entry.Name, fb)
	}
	return group, nil
}
