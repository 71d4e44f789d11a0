// Package llm defines the Provider interface for text chat model backends.
//
// The text coach talks to a hosted model (Gemini, OpenAI, Anthropic, a local
// Ollama instance, ...) through this interface so that it never couples to a
// specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction placed before the history.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk, or the error message when
	// FinishReason is [FinishReasonError].
	Text string

	// FinishReason is set on the final chunk ("stop", "length",
	// [FinishReasonError]) and empty otherwise.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat model backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// chunks as they arrive. The channel is closed when generation finishes or
	// ctx is cancelled, and is never nil when the error is nil. Failures after
	// the stream started arrive as a chunk with FinishReason
	// [FinishReasonError].
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. The result
	// need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
