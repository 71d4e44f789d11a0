package coach

import (
	"sync"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/llm"
)

// history is the bounded message log of one conversation.
type history struct {
	// lastUsed is guarded by the owning Service's mutex.
	lastUsed time.Time

	mu       sync.Mutex
	messages []llm.Message
}

// snapshot returns a copy of the stored messages.
func (h *history) snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// append adds msgs and drops the oldest messages so that at most max remain.
// max <= 0 keeps nothing.
func (h *history) append(max int, msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	if over := len(h.messages) - max; over > 0 {
		h.messages = append(h.messages[:0:0], h.messages[min(over, len(h.messages)):]...)
	}
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
