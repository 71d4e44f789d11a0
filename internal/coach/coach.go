// Package coach implements the text side of the hobby coach: a streaming chat
// over an [llm.Provider] with a bounded history per conversation.
//
// The voice side lives in internal/voice. Both share the persona configured
// under the coach section of the config file.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyMessage is returned by [Service.Chat] when the user message is blank.
var ErrEmptyMessage = errors.New("coach: empty message")

// Settings are the hot-reloadable parts of the coach persona.
type Settings struct {
	// SystemPrompt is sent ahead of the history on every turn.
	SystemPrompt string

	// MaxHistory is the number of past messages kept per conversation.
	MaxHistory int

	// Temperature and MaxTokens are passed through to the provider when
	// non-zero.
	Temperature float64
	MaxTokens   int

	// MaxConversations caps the number of conversations held in memory. When
	// a new conversation would exceed it, the least recently used one is
	// dropped. Zero means [DefaultMaxConversations].
	MaxConversations int

	// IdleTTL drops conversations that have not been used for this long.
	// Zero disables the idle limit.
	IdleTTL time.Duration
}

// DefaultMaxConversations is used when [Settings.MaxConversations] is zero.
const DefaultMaxConversations = 1000

// Service runs coach conversations. It is safe for concurrent use.
type Service struct {
	provider llm.Provider
	name     string
	log      *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.Mutex
	settings Settings
	convs    map[string]*history
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName sets the provider label used on metrics. The default is
// "llm".
func WithProviderName(name string) Option {
	return func(s *Service) { s.name = name }
}

// New returns a Service that answers through p.
func New(p llm.Provider, settings Settings, opts ...Option) *Service {
	s := &Service{
		provider: p,
		name:     "llm",
		settings: settings,
		convs:    make(map[string]*history),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetSettings replaces the persona. Turns already streaming keep the settings
// they started with. Lowered conversation limits apply immediately.
func (s *Service) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.evictLocked(0)
}

// Settings returns the current persona.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// History returns a copy of the stored messages of conversation id.
func (s *Service) History(id string) []llm.Message {
	s.mu.Lock()
	h := s.convs[id]
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.snapshot()
}

// Reset forgets conversation id.
func (s *Service) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

// Len returns the number of conversations held in memory.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

// Sweep drops conversations idle for longer than [Settings.IdleTTL] and
// returns how many were dropped.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.convs)
	s.evictLocked(0)
	return before - len(s.convs)
}

// Run sweeps idle conversations every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("coach: dropped idle conversations", "count", n)
			}
		}
	}
}

func (s *Service) conversation(id string) (*history, Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.convs[id]
	if !ok {
		s.evictLocked(1)
		h = &history{}
		s.convs[id] = h
	}
	h.lastUsed = s.now()
	return h, s.settings
}

// forget drops conversation id if it still maps to h and has no messages. It
// keeps failed first turns from pinning an entry.
func (s *Service) forget(id string, h *history) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convs[id] == h && h.len() == 0 {
		delete(s.convs, id)
	}
}

// evictLocked drops idle conversations, then the least recently used ones
// until room more fit under the cap. s.mu must be held.
func (s *Service) evictLocked(room int) {
	now := s.now()
	if ttl := s.settings.IdleTTL; ttl > 0 {
		for id, h := range s.convs {
			if now.Sub(h.lastUsed) > ttl {
				delete(s.convs, id)
			}
		}
	}

	limit := s.settings.MaxConversations
	if limit <= 0 {
		limit = DefaultMaxConversations
	}
	for len(s.convs) > 0 && len(s.convs)+room > limit {
		var (
			oldest   string
			oldestAt time.Time
		)
		first := true
		for id, h := range s.convs {
			if first || h.lastUsed.Before(oldestAt) {
				oldest, oldestAt, first = id, h.lastUsed, false
			}
		}
		delete(s.convs, oldest)
	}
}

// Chat sends message as the next user turn of conversation id and streams the
// reply. The returned channel is closed when the reply is complete, the
// provider fails or ctx is done. A failure after the stream started arrives
// as a final chunk with FinishReason [llm.FinishReasonError].
//
// The turn is added to the history only when the reply completed without
// error.
func (s *Service) Chat(ctx context.Context, id, message string) (<-chan llm.Chunk, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := observe.StartSpan(ctx, "coach.chat",
		trace.WithAttributes(observe.AttrConversationID.String(id)))
	h, settings := s.conversation(id)
	user := llm.Message{Role: llm.RoleUser, Content: message}
	req := llm.CompletionRequest{
		SystemPrompt: settings.SystemPrompt,
		Messages:     append(h.snapshot(), user),
		Temperature:  settings.Temperature,
		MaxTokens:    settings.MaxTokens,
	}

	start := time.Now()
	upstream, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		s.forget(id, h)
		s.record(ctx, start, "error")
		observe.EndSpan(span, err)
		return nil, fmt.Errorf("coach: chat: %w", err)
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var spanErr error
		defer func() { observe.EndSpan(span, spanErr) }()

		var reply strings.Builder
		failed := false
		for chunk := range upstream {
			if chunk.FinishReason == llm.FinishReasonError {
				failed = true
				spanErr = errors.New(chunk.Text)
				s.log.Warn("coach: provider stream failed", "conversation", id, "err", chunk.Text)
			} else {
				reply.WriteString(chunk.Text)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				spanErr = ctx.Err()
				s.forget(id, h)
				s.record(ctx, start, "cancelled")
				return
			}
		}

		switch {
		case failed:
			s.forget(id, h)
			s.record(ctx, start, "error")
		case ctx.Err() != nil:
			spanErr = ctx.Err()
			s.forget(id, h)
			s.record(ctx, start, "cancelled")
		default:
			h.append(settings.MaxHistory, user, llm.Message{Role: llm.RoleAssistant, Content: reply.String()})
			s.record(ctx, start, "ok")
		}
	}()
	return out, nil
}

func (s *Service) record(ctx context.Context, start time.Time, status string) {
	ctx = context.WithoutCancel(ctx)
	s.metrics.CoachChatDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	s.metrics.RecordProviderRequest(ctx, s.name, "llm", status)
}
