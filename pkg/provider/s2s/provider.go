// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and answers with synthesised audio in a single, stateful session. The
// session surface is deliberately narrow: send one input blob, read lifecycle
// and content events from a channel, close. Everything else (codec, playback,
// resource ownership) belongs to the caller.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// EventType classifies values delivered on [Session.Events].
type EventType int

const (
	// EventOpen is delivered once, first, when the remote session is ready.
	EventOpen EventType = iota

	// EventMessage carries one server message in [Event.Message].
	EventMessage

	// EventError reports a transport or protocol failure in [Event.Err]. It
	// is terminal: the channel is closed after it.
	EventError

	// EventClose reports that the remote side closed the session. It is
	// terminal: the channel is closed after it.
	EventClose
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "OPEN"
	case EventMessage:
		return "MESSAGE"
	case EventError:
		return "ERROR"
	case EventClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Event is one lifecycle or content notification from a [Session].
type Event struct {
	Type EventType

	// Message is set for EventMessage.
	Message *Message

	// Err is set for EventError.
	Err error

	// Code and Reason are set for EventClose when the remote side sent a
	// close frame.
	Code   int
	Reason string
}

// InlineData is binary content embedded in a message part.
type InlineData struct {
	MIMEType string

	// Data is base64-encoded.
	Data string
}

// Part is one element of a model turn.
type Part struct {
	Text       string
	InlineData *InlineData
}

// Message is the content of one server message, in wire order.
type Message struct {
	// Parts are the model turn parts. Empty for control-only messages such as
	// a setup acknowledgement.
	Parts []Part

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// Interrupted reports that the model stopped generating because the user
	// started speaking.
	Interrupted bool
}

// InlineAudio returns the base64 payload of the first part's inline data.
// It reports false when the message has no parts, the first part carries no
// inline data, or the payload is empty.
func (m *Message) InlineAudio() (string, bool) {
	if m == nil || len(m.Parts) == 0 {
		return "", false
	}
	d := m.Parts[0].InlineData
	if d == nil || d.Data == "" {
		return "", false
	}
	return d.Data, true
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Voice is the provider-specific prebuilt voice name.
	Voice string

	// Instructions is the system-level prompt that defines the coach's
	// persona and behaviour.
	Instructions string
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// Session is an open S2S session. It is an interface so that test code can
// supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendInput delivers one encoded audio blob to the model. It returns an
	// error if the session is closed or the write fails.
	SendInput(ctx context.Context, blob audio.Blob) error

	// Events returns the channel on which lifecycle and content events
	// arrive. The first event is EventOpen. The channel is closed after a
	// terminal event or after Close. It must be consumed by a single
	// goroutine.
	Events() <-chan Event

	// Close terminates the session and releases its resources. No terminal
	// event is delivered for a local Close. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session with the given configuration. It
	// blocks until the session is ready to accept input or ctx is done.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
