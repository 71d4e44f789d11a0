package resilience

import (
	"context"
	"errors"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
)

var _ llm.Provider = (*Chat)(nil)

// Chat is an llm.Provider that fails over across chat model backends.
//
// Only opening a stream is covered: once StreamCompletion has returned a
// channel, errors inside the stream are delivered as chunks by the backend
// that produced them.
type Chat struct {
	group *Group[llm.Provider]
}

// NewChat returns a Chat over backends in preference order.
func NewChat(cfg BreakerConfig, backends ...Backend[llm.Provider]) *Chat {
	return &Chat{group: NewGroup(cfg, backends...)}
}

// StreamCompletion opens a stream on the first healthy backend.
func (c *Chat) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Do(ctx, c.group, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Complete asks the first healthy backend for a full response.
func (c *Chat) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, c.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the first healthy backend's estimate.
func (c *Chat) CountTokens(messages []llm.Message) (int, error) {
	return Do(context.Background(), c.group, func(_ context.Context, p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary backend's capabilities.
func (c *Chat) Capabilities() llm.ModelCapabilities {
	if p, ok := c.group.Primary(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}

// States reports each backend's breaker state by name.
func (c *Chat) States() map[string]State { return c.group.States() }

// Check fails when every backend's breaker is open. It satisfies the
// readiness check signature.
func (c *Chat) Check(context.Context) error {
	if c.group.Available() {
		return nil
	}
	return errors.New("all chat backends are unavailable")
}
