package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Niranjan-reddy99/hobbystreak/internal/config"
)

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":1234", LogLevel: config.LogWarn},
		Coach:  config.CoachConfig{Voice: "Aoede", MaxHistory: 3},
		Audio:  config.AudioConfig{Backend: config.AudioPortAudio},
	}
	config.ApplyDefaults(cfg)

	if cfg.Server.ListenAddr != ":1234" {
		t.Errorf("listen_addr overwritten: %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level overwritten: %q", cfg.Server.LogLevel)
	}
	if cfg.Coach.Voice != "Aoede" || cfg.Coach.MaxHistory != 3 {
		t.Errorf("coach overwritten: %+v", cfg.Coach)
	}
	if cfg.Audio.Backend != config.AudioPortAudio {
		t.Errorf("audio.backend overwritten: %q", cfg.Audio.Backend)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_TLSPair(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.TLS = &config.TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("complete tls pair should validate: %v", err)
	}

	cfg.Server.TLS = &config.TLSConfig{KeyFile: "key.pem"}
	if err := config.Validate(cfg); err == nil {
		t.Fatal("expected error for tls without cert_file")
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.LLM = config.ProviderEntry{Name: "homegrown", Model: "x"}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.ValidProviderNames["s2s"], "gemini-live") {
		t.Error("s2s should list gemini-live")
	}
	for _, name := range []string{"gemini", "openai", "ollama"} {
		if !slices.Contains(config.ValidProviderNames["llm"], name) {
			t.Errorf("llm should list %q", name)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hobbystreak.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
}
