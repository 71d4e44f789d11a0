package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CoachChanged is true if any coach persona setting changed. Voice
	// settings apply to the next voice session; chat settings apply to the
	// next chat turn.
	CoachChanged bool
	Coach        CoachConfig

	// RestartRequired lists settings that changed but only take effect after
	// a restart (e.g., "server.listen_addr").
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.CoachChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Coach != new.Coach {
		d.CoachChanged = true
		d.Coach = new.Coach
	}

	restart := func(changed bool, key string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(old.Server.LogFormat != new.Server.LogFormat, "server.log_format")
	restart(!sameTLS(old.Server.TLS, new.Server.TLS), "server.tls")
	restart(!sameEntry(old.Providers.S2S, new.Providers.S2S), "providers.s2s")
	restart(!sameEntry(old.Providers.LLM, new.Providers.LLM), "providers.llm")
	restart(!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, sameEntry), "providers.llm_fallbacks")
	restart(old.Audio != new.Audio, "audio")
	restart(old.Database != new.Database, "database")
	restart(old.Telemetry.ServiceName != new.Telemetry.ServiceName ||
		old.Telemetry.Metrics() != new.Telemetry.Metrics(), "telemetry")

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameEntry compares the fixed fields of two provider entries. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
