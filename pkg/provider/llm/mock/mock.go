// Package mock provides a scripted chat model for coach tests.
//
// A Provider answers every turn with StreamChunks unless Turns holds a script
// for that turn, so multi-turn conversations can be replayed:
//
//	p := &mock.Provider{Turns: [][]llm.Chunk{
//		mock.Reply("What did you practise today?"),
//		mock.Failure("quota exceeded"),
//	}}
//
// Requests are recorded in StreamCalls and CompleteCalls. Read them after the
// stream under test has finished.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded request.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a scripted [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// Turns scripts StreamCompletion per call: call i streams Turns[i]. Calls
	// past the end of Turns stream StreamChunks.
	Turns [][]llm.Chunk

	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail before a stream is opened.
	StreamErr error

	// StreamGate, if non-nil, holds back every chunk until it is closed or
	// the context is done.
	StreamGate chan struct{}

	// CompleteResponse and CompleteErr are returned by Complete. A nil
	// response with a nil error joins the streamed chunks instead.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	ModelCapabilities llm.ModelCapabilities

	StreamCalls   []Call
	CompleteCalls []Call
}

// Reply returns chunks that stream text word by word and finish with "stop".
func Reply(text string) []llm.Chunk {
	words := strings.SplitAfter(text, " ")
	out := make([]llm.Chunk, 0, len(words)+1)
	for _, w := range words {
		out = append(out, llm.Chunk{Text: w})
	}
	return append(out, llm.Chunk{FinishReason: "stop"})
}

// Failure returns a stream that breaks off with msg.
func Failure(msg string) []llm.Chunk {
	return []llm.Chunk{{Text: msg, FinishReason: llm.FinishReasonError}}
}

// StreamCompletion records req and streams the scripted turn.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	turn := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	script := p.StreamChunks
	if turn < len(p.Turns) {
		script = p.Turns[turn]
	}
	chunks := append([]llm.Chunk(nil), script...)
	gate := p.StreamGate
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records req and returns the configured response, or the text of
// StreamChunks when none is configured.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	if p.CompleteErr != nil || p.CompleteResponse != nil {
		return p.CompleteResponse, p.CompleteErr
	}
	var b strings.Builder
	for _, c := range p.StreamChunks {
		b.WriteString(c.Text)
	}
	return &llm.CompletionResponse{Content: b.String()}, nil
}

// CountTokens counts words, one token each.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n, nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
