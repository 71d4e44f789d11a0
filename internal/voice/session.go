// Package voice implements the live voice coach session: it captures the
// microphone, streams it to a speech-to-speech model, and plays the model's
// spoken answers back without gaps.
//
// A [Session] owns every handle it opens (two audio contexts, the microphone,
// the capture processor and the remote session) and releases all of them on
// every exit path. Only one connection is live per Session; [Session.Connect]
// is rejected with [ErrBusy] unless the session is idle.
//
// Transport events are consumed by a single goroutine per connection. The
// caller's [Handlers] are invoked from that goroutine (or from the Connect
// caller when setup fails), never concurrently with each other.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/internal/observe"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/provider/s2s/gemini"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrMissingCredential is returned by [New] when no API key is configured.
	ErrMissingCredential = errors.New("voice: missing API key")

	// ErrBusy is returned by [Session.Connect] when the session is not idle.
	ErrBusy = errors.New("voice: session already in progress")

	// ErrConnection is passed to Handlers.OnError when an established
	// connection fails. The underlying cause is logged.
	ErrConnection = errors.New("voice: connection error")

	// ErrConnectFailed replaces setup errors that carry no message.
	ErrConnectFailed = errors.New("voice: failed to connect")
)

// Config configures the remote voice model.
type Config struct {
	// APIKey authenticates against the voice model provider. Required.
	APIKey string

	// Model overrides the provider's default live model.
	Model string

	// Voice is the prebuilt voice name used for the coach's speech.
	Voice string

	// Instructions is the system prompt describing the coach persona.
	Instructions string
}

// Handlers receive lifecycle notifications. Any field may be nil.
type Handlers struct {
	// OnOpen is called once the remote session is open and capture runs.
	OnOpen func()

	// OnClose is called after teardown when the remote side closed the
	// session or the caller disconnected.
	OnClose func()

	// OnError is called when setup fails (with the setup error) or when an
	// established connection fails (with [ErrConnection]).
	OnError func(error)
}

// Option configures a [Session].
type Option func(*Session)

// WithProvider sets the speech-to-speech provider. By default a Gemini Live
// provider is built from [Config].
func WithProvider(p s2s.Provider) Option {
	return func(s *Session) { s.provider = p }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Status is a point-in-time view of a [Session].
type Status struct {
	State         State
	SessionID     string
	ActiveSources int
	NextStartTime float64
}

// Session is a live voice coach session. All methods are safe for concurrent
// use.
type Session struct {
	cfg      Config
	backend  audio.Backend
	provider s2s.Provider
	log      *slog.Logger
	metrics  *observe.Metrics

	mu    sync.Mutex
	state State
	cur   *conn
}

// conn holds everything owned by one Connect call.
type conn struct {
	id       string
	handlers Handlers
	log      *slog.Logger

	cancelSetup context.CancelFunc
	ctx         context.Context // lives until teardown
	cancel      context.CancelFunc

	active atomic.Bool
	quit   chan struct{} // closed by teardown

	// guarded by Session.mu
	ready    bool // setup finished, run loop owns the handlers
	closing  bool // Disconnect requested or teardown started
	tornDown bool

	mu       sync.Mutex // guards the handles below
	input    audio.InputContext
	output   audio.OutputContext
	mic      audio.Microphone
	proc     audio.Processor
	remote   s2s.Session
	player   *scheduler
	outbox   *outbox
	counted  bool // ActiveSessions was incremented
	released bool
}

// New creates an idle Session. It fails with [ErrMissingCredential] before
// touching any device or network resource when cfg.APIKey is empty.
func New(cfg Config, backend audio.Backend, opts ...Option) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}
	if backend == nil {
		return nil, errors.New("voice: nil audio backend")
	}

	s := &Session{
		cfg:     cfg,
		backend: backend,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}

	if s.provider == nil {
		p, err := gemini.New(cfg.APIKey, gemini.WithModel(cfg.Model), gemini.WithLogger(s.log))
		if err != nil {
			return nil, fmt.Errorf("voice: %w", err)
		}
		s.provider = p
	}

	if voices := s.provider.Capabilities().Voices; cfg.Voice != "" && len(voices) > 0 && !slices.Contains(voices, cfg.Voice) {
		s.log.Warn("voice: configured voice is not advertised by the provider", "voice", cfg.Voice, "known", voices)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current state together with playback statistics.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{State: s.state}
	c := s.cur
	s.mu.Unlock()

	if c == nil {
		return st
	}
	st.SessionID = c.id
	c.mu.Lock()
	p := c.player
	c.mu.Unlock()
	if p != nil {
		st.ActiveSources = p.active()
		st.NextStartTime = p.nextStart()
	}
	return st
}

// Connect opens the audio contexts, requests the microphone and connects to
// the remote model, in that order. It blocks until setup has finished.
//
// It returns [ErrBusy] without side effects when the session is not idle. On
// setup failure every acquired resource is released, h.OnError is invoked
// with the error, and the same error is returned. If [Session.Disconnect] is
// called during setup, setup is cancelled, h.OnClose is invoked and a
// context.Canceled error is returned.
//
// No timeout is applied beyond ctx. ctx only bounds setup; the connection
// lives until Disconnect or until the remote side ends it.
func (s *Session) Connect(ctx context.Context, h Handlers) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.log.Warn("voice: connect rejected", "state", state)
		return ErrBusy
	}

	setupCtx, cancelSetup := context.WithCancel(ctx)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		id:          uuid.NewString(),
		handlers:    h,
		cancelSetup: cancelSetup,
		ctx:         runCtx,
		cancel:      cancel,
		quit:        make(chan struct{}),
	}
	c.log = s.log.With("session_id", c.id)
	s.cur = c
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "voice.connect",
		trace.WithAttributes(observe.AttrSessionID.String(c.id)))
	start := time.Now()
	c.log.Info("voice: connecting", "model", s.cfg.Model, "voice", s.cfg.Voice)

	err := s.setup(setupCtx, c)
	cancelSetup()

	var events <-chan s2s.Event
	s.mu.Lock()
	closing := c.closing
	if err == nil && !closing {
		c.mu.Lock()
		events = c.remote.Events()
		c.mu.Unlock()
		c.ready = true
	}
	s.mu.Unlock()

	elapsed := time.Since(start).Seconds()
	switch {
	case closing:
		c.log.Info("voice: connect cancelled by disconnect")
		s.teardown(c)
		s.metrics.RecordConnect(ctx, elapsed, "cancelled")
		observe.EndSpan(span, context.Canceled)
		if h.OnClose != nil {
			h.OnClose()
		}
		return fmt.Errorf("voice: connect: %w", context.Canceled)

	case err != nil:
		c.log.Error("voice: connect failed", "err", err)
		s.teardown(c)
		s.metrics.RecordConnect(ctx, elapsed, "error")
		s.metrics.RecordSessionError(ctx, "setup")
		observe.EndSpan(span, err)
		if h.OnError != nil {
			h.OnError(err)
		}
		return err
	}

	s.metrics.RecordConnect(ctx, elapsed, "ok")
	observe.EndSpan(span, nil)
	go s.run(c, events)
	return nil
}

// setup acquires the connection's handles in order, storing each one as soon
// as it exists so that teardown can release a partial setup.
func (s *Session) setup(ctx context.Context, c *conn) error {
	in, err := s.backend.NewInputContext(audio.InputSampleRate)
	if err != nil {
		return fmt.Errorf("voice: input context: %w", orConnectFailed(err))
	}
	c.mu.Lock()
	c.input = in
	c.mu.Unlock()

	out, err := s.backend.NewOutputContext(audio.OutputSampleRate)
	if err != nil {
		return fmt.Errorf("voice: output context: %w", orConnectFailed(err))
	}
	c.mu.Lock()
	c.output = out
	c.player = newScheduler(out, s.sourcesChanged)
	c.mu.Unlock()

	mic, err := in.OpenMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("voice: open microphone: %w", orConnectFailed(err))
	}
	c.mu.Lock()
	c.mic = mic
	c.mu.Unlock()

	remote, err := s.provider.Connect(ctx, s2s.SessionConfig{
		Model:        s.cfg.Model,
		Voice:        s.cfg.Voice,
		Instructions: s.cfg.Instructions,
	})
	if err != nil {
		return fmt.Errorf("voice: connect remote: %w", orConnectFailed(err))
	}
	c.mu.Lock()
	c.remote = remote
	c.mu.Unlock()
	return nil
}

// orConnectFailed substitutes [ErrConnectFailed] for errors without a message.
func orConnectFailed(err error) error {
	if err == nil || err.Error() == "" {
		return ErrConnectFailed
	}
	return err
}

// run is the single consumer of the connection's transport events.
func (s *Session) run(c *conn, events <-chan s2s.Event) {
	for {
		select {
		case <-c.quit:
			// Local Disconnect: teardown already ran.
			if c.handlers.OnClose != nil {
				c.handlers.OnClose()
			}
			return
		case ev, ok := <-events:
			if !ok {
				ev = s2s.Event{Type: s2s.EventClose}
			}
			if s.handleEvent(c, ev) {
				return
			}
		}
	}
}

// handleEvent processes one transport event and reports whether the
// connection is finished.
func (s *Session) handleEvent(c *conn, ev s2s.Event) bool {
	h := c.handlers
	switch ev.Type {
	case s2s.EventOpen:
		if err := s.open(c); err != nil {
			c.log.Error("voice: start capture", "err", err)
			s.metrics.RecordSessionError(c.ctx, "capture")
			if h.OnError != nil {
				h.OnError(err)
			}
			s.teardown(c)
			return true
		}
		c.log.Info("voice: session open")
		if h.OnOpen != nil {
			h.OnOpen()
		}

	case s2s.EventMessage:
		s.handleMessage(c, ev.Message)

	case s2s.EventError:
		c.log.Error("voice: transport error", "err", ev.Err)
		s.metrics.RecordSessionError(c.ctx, "transport")
		if h.OnError != nil {
			h.OnError(ErrConnection)
		}
		s.teardown(c)
		return true

	case s2s.EventClose:
		c.log.Info("voice: remote closed", "code", ev.Code, "reason", ev.Reason)
		s.teardown(c)
		if h.OnClose != nil {
			h.OnClose()
		}
		return true
	}
	return false
}

// open marks the connection active and wires the capture pipeline.
func (s *Session) open(c *conn) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	in, mic, remote := c.input, c.mic, c.remote
	ob := newOutbox()
	c.outbox = ob
	c.mu.Unlock()

	c.active.Store(true)
	proc, err := in.Process(mic, audio.FrameSize, func(f audio.Frame) {
		s.capture(c, ob, f)
	})
	if err != nil {
		return fmt.Errorf("voice: attach capture: %w", err)
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		proc.Disconnect()
		return nil
	}
	c.proc = proc
	c.counted = true
	c.mu.Unlock()

	s.mu.Lock()
	if s.cur == c && !c.closing {
		s.state = StateActive
	}
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(c.ctx, 1)
	go s.send(c, ob, remote)
	return nil
}

// capture runs on the device goroutine for every captured frame.
func (s *Session) capture(c *conn, ob *outbox, f audio.Frame) {
	if !c.active.Load() {
		s.metrics.FramesDropped.Add(context.Background(), 1)
		return
	}
	ob.push(audio.EncodeBlob(f.Samples))
}

// send drains ob into the remote session until the outbox is closed. Blobs
// dequeued after the connection went inactive are dropped.
func (s *Session) send(c *conn, ob *outbox, remote s2s.Session) {
	for {
		blob, ok := ob.pop()
		if !ok {
			return
		}
		if !c.active.Load() {
			continue
		}
		if err := remote.SendInput(c.ctx, blob); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("voice: send input", "err", err)
			s.metrics.RecordSessionError(c.ctx, "send")
			continue
		}
		s.metrics.FramesSent.Add(c.ctx, 1)
	}
}

// handleMessage schedules the inline audio of a server message. Messages
// without audio are skipped; decode and scheduling errors are logged and
// dropped.
func (s *Session) handleMessage(c *conn, m *s2s.Message) {
	data, ok := m.InlineAudio()
	if !ok {
		return
	}

	buf, err := audio.DecodeBase64PCM(data, audio.OutputSampleRate, 1)
	if err != nil {
		c.log.Warn("voice: dropping undecodable audio", "err", err)
		s.metrics.DecodeErrors.Add(c.ctx, 1)
		return
	}

	c.mu.Lock()
	p := c.player
	c.mu.Unlock()
	if p == nil {
		return
	}

	start, err := p.enqueue(buf)
	if errors.Is(err, errPlaybackStopped) {
		return
	}
	if err != nil {
		c.log.Warn("voice: dropping unschedulable audio", "err", err)
		s.metrics.DecodeErrors.Add(c.ctx, 1)
		return
	}
	s.metrics.FramesReceived.Add(c.ctx, 1)
	c.log.Debug("voice: scheduled audio", "start", start, "duration", buf.Duration())
}

// sourcesChanged feeds the scheduled-sources gauge.
func (s *Session) sourcesChanged(delta int64) {
	s.metrics.ScheduledSources.Add(context.Background(), delta)
}

// Disconnect ends the current connection. It is safe to call from any state
// and from within a handler, and calling it again is a no-op.
//
// After setup has finished, Disconnect closes the remote session and releases
// every resource before returning; h.OnClose follows asynchronously. During
// setup it cancels setup and returns; Connect then releases what it acquired.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.cur
	if c == nil || c.closing {
		s.mu.Unlock()
		return
	}
	c.closing = true
	c.active.Store(false)
	ready := c.ready
	if !ready {
		s.state = StateClosing
	}
	s.mu.Unlock()

	if !ready {
		c.log.Info("voice: disconnect during setup")
		c.cancelSetup()
		return
	}
	c.log.Info("voice: disconnecting")
	s.teardown(c)
}

// teardown releases every handle held by c: the remote session, scheduled
// sources, the capture processor, the microphone and both audio contexts.
// Only the first call for a connection does any work.
func (s *Session) teardown(c *conn) {
	s.mu.Lock()
	if s.cur != c || c.tornDown {
		s.mu.Unlock()
		return
	}
	c.tornDown = true
	c.closing = true
	c.active.Store(false)
	s.state = StateClosing
	s.mu.Unlock()

	c.cancelSetup()
	c.cancel()

	c.mu.Lock()
	remote, player, ob := c.remote, c.player, c.outbox
	proc, mic, in, out := c.proc, c.mic, c.input, c.output
	counted := c.counted
	c.remote, c.player, c.outbox = nil, nil, nil
	c.proc, c.mic, c.input, c.output = nil, nil, nil, nil
	c.counted = false
	c.released = true
	c.mu.Unlock()

	if remote != nil {
		if err := remote.Close(); err != nil {
			c.log.Debug("voice: close remote", "err", err)
		}
	}
	if player != nil {
		player.stopAll()
	}
	if ob != nil {
		ob.close()
	}
	if proc != nil {
		proc.Disconnect()
	}
	if mic != nil {
		mic.Stop()
	}
	closeContext(c.log, "input", in)
	closeContext(c.log, "output", out)
	if counted {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	close(c.quit)

	s.mu.Lock()
	s.cur = nil
	s.state = StateIdle
	s.mu.Unlock()
	c.log.Info("voice: session released")
}

// closeContext closes ac unless it is nil or already closed.
func closeContext(log *slog.Logger, name string, ac audio.Context) {
	if ac == nil || ac.Closed() {
		return
	}
	if err := ac.Close(); err != nil {
		log.Debug("voice: close audio context", "context", name, "err", err)
	}
}
