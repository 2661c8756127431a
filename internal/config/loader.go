package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envRefPattern matches ${VAR} references in raw config text.
var envRefPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// References of the form ${VAR} are expanded from the environment before
// parsing, so secrets can stay out of the file itself.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	// Only the braced form is expanded; a bare $ in a DSN password stays put.
	expanded := envRefPattern.ReplaceAllStringFunc(string(raw), func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; analysis and question generation need a generation backend"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// Embeddings ↔ store dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but store.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but store.postgres_dsn is empty; semantic repeat guard will not be available")
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; interview state will be held in memory and lost on restart")
	}

	// Interview tuning
	if cfg.Interview.TotalQuestions < 0 {
		errs = append(errs, fmt.Errorf("interview.total_questions %d must not be negative", cfg.Interview.TotalQuestions))
	}
	if cfg.Interview.TotalQuestions > 0 && cfg.Interview.TotalQuestions < 3 {
		errs = append(errs, fmt.Errorf("interview.total_questions %d is below the three opening questions", cfg.Interview.TotalQuestions))
	}
	if cfg.Interview.MaxInterruptionDelay < 0 {
		errs = append(errs, fmt.Errorf("interview.max_interruption_delay %s must not be negative", cfg.Interview.MaxInterruptionDelay))
	}
	if cfg.Interview.MaxInterruptionDelay > time.Second {
		slog.Warn("interview.max_interruption_delay is above one second; barge-in will feel sluggish",
			"max_interruption_delay", cfg.Interview.MaxInterruptionDelay,
		)
	}
	if cfg.Interview.SimilarityThreshold != 0 {
		if cfg.Interview.SimilarityThreshold <= 0 || cfg.Interview.SimilarityThreshold > 1 {
			errs = append(errs, fmt.Errorf("interview.similarity_threshold %.2f is out of range (0, 1]", cfg.Interview.SimilarityThreshold))
		}
	}

	// Voice relay
	if cfg.Voice.RelayURL != "" {
		if !strings.HasPrefix(cfg.Voice.RelayURL, "ws://") && !strings.HasPrefix(cfg.Voice.RelayURL, "wss://") {
			errs = append(errs, fmt.Errorf("voice.relay_url %q must use the ws:// or wss:// scheme", cfg.Voice.RelayURL))
		}
	}
	if cfg.Voice.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("voice.event_buffer %d must not be negative", cfg.Voice.EventBuffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
