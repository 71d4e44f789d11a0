package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultVoice            = "Puck"
	DefaultMaxHistory       = 20
	DefaultMaxConversations = 1000
	DefaultConversationTTL  = 30 * time.Minute
	DefaultServiceName      = "hobbystreak"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s": {"gemini-live"},
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = "gemini-live"
	}
	if cfg.Coach.Voice == "" {
		cfg.Coach.Voice = DefaultVoice
	}
	if cfg.Coach.MaxHistory == 0 {
		cfg.Coach.MaxHistory = DefaultMaxHistory
	}
	if cfg.Coach.MaxConversations == 0 {
		cfg.Coach.MaxConversations = DefaultMaxConversations
	}
	if cfg.Coach.ConversationTTL == 0 {
		cfg.Coach.ConversationTTL = DefaultConversationTTL
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioNull
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.S2S.Name != "" && cfg.Providers.S2S.APIKey == "" {
		slog.Warn("providers.s2s.api_key is empty; voice sessions will be refused")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; text chat will not be available")
	}

	// Coach
	if cfg.Coach.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("coach.max_history %d must not be negative", cfg.Coach.MaxHistory))
	}
	if cfg.Coach.MaxConversations < 0 {
		errs = append(errs, fmt.Errorf("coach.max_conversations %d must not be negative", cfg.Coach.MaxConversations))
	}
	if cfg.Coach.ConversationTTL < 0 {
		errs = append(errs, fmt.Errorf("coach.conversation_ttl %s must not be negative", cfg.Coach.ConversationTTL))
	}

	// Audio
	if cfg.Audio.Backend != "" && !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, null", cfg.Audio.Backend))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; community endpoints will not be available")
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
