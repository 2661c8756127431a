package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider, store,
// and server changes require a restart and are reported as such.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	InterviewChanged bool
	NewInterview     InterviewConfig

	// RestartRequired is true when a non-reloadable section (server address,
	// TLS, providers, store, voice) differs between the two configs.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Interview tuning applies to flows created after the reload.
	if old.Interview != new.Interview {
		d.InterviewChanged = true
		d.NewInterview = new.Interview
	}

	if serverRequiresRestart(old.Server, new.Server) ||
		!providersEqual(old.Providers, new.Providers) ||
		old.Store != new.Store ||
		old.Voice != new.Voice {
		d.RestartRequired = true
	}

	return d
}

// serverRequiresRestart reports whether the non-reloadable server fields differ.
// LogLevel is excluded; it is tracked separately as a hot-reloadable change.
func serverRequiresRestart(old, new ServerConfig) bool {
	if old.ListenAddr != new.ListenAddr {
		return true
	}
	switch {
	case old.TLS == nil && new.TLS == nil:
		return false
	case old.TLS == nil || new.TLS == nil:
		return true
	default:
		return *old.TLS != *new.TLS
	}
}

// providersEqual compares provider configurations including the fallback chain.
func providersEqual(old, new ProvidersConfig) bool {
	if !entriesEqual(old.LLM, new.LLM) || !entriesEqual(old.Embeddings, new.Embeddings) {
		return false
	}
	if len(old.LLMFallbacks) != len(new.LLMFallbacks) {
		return false
	}
	for i := range old.LLMFallbacks {
		if !entriesEqual(old.LLMFallbacks[i], new.LLMFallbacks[i]) {
			return false
		}
	}
	return true
}

// entriesEqual compares two provider entries field by field.
// The free-form Options map may contain nested maps, so it is compared deeply.
func entriesEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
