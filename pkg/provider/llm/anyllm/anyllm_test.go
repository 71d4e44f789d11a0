package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got := convertMessage(llm.Message{Role: role, Content: "keep practicing"})
		if got.Role != role {
			t.Errorf("role: got %q, want %q", got.Role, role)
		}
		if got.ContentString() != "keep practicing" {
			t.Errorf("content: got %q", got.ContentString())
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a hobby coach.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "How do I start knitting?"}},
		Temperature:  0.7,
		MaxTokens:    256,
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model: got %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages: got %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role: got %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature: got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens: got %v", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("messages: got %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature/max tokens should be left to the provider")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model     string
		window    int
		maxOutput int
	}{
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"GEMINI-1.5-PRO", 2_097_152, 8_192},
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"llama3", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("context window: got %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOutput {
				t.Errorf("max output: got %d, want %d", caps.MaxOutputTokens, tt.maxOutput)
			}
			if !caps.SupportsStreaming {
				t.Error("expected streaming support")
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_WithAPIKey(t *testing.T) {
	t.Parallel()
	p, err := New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" || p.Model() != "gpt-4o" {
		t.Errorf("got %s/%s", p.Name(), p.Model())
	}
}

func TestNew_OllamaNoAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("ollama", "llama3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}

	n, err := p.CountTokens(nil)
	if err != nil || n != 0 {
		t.Errorf("empty: got %d, %v", n, err)
	}

	// "abcdefgh" is two tokens plus four overhead, twice.
	n, _ = p.CountTokens([]llm.Message{
		{Role: llm.RoleUser, Content: "abcdefgh"},
		{Role: llm.RoleAssistant, Content: "abcdefgh"},
	})
	if n != 12 {
		t.Errorf("got %d, want 12", n)
	}
}

func TestEmptyMessagesRejected(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("StreamCompletion: expected error")
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("Complete: expected error")
	}
}
