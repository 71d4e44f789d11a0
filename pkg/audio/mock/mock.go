// Package mock provides in-memory implementations of the [audio.Backend],
// [audio.InputContext] and [audio.OutputContext] interfaces for use in unit
// tests.
//
// The output clock never moves on its own: tests set it with
// [OutputContext.SetTime] and finish playback explicitly with [Source.End].
// Captured frames are injected with [Processor.Push].
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts and arguments, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	b := mock.NewBackend()
//	sess, _ := voice.New(cfg, b, voice.WithProvider(p))
//	_ = sess.Connect(ctx, handlers)
//	b.Input.Processor().Push(make([]float32, audio.FrameSize))
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// ErrContextClosed is returned by operations on a closed context.
var ErrContextClosed = errors.New("mock: context closed")

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend]. It hands out the same
// Input and Output contexts on every call.
type Backend struct {
	mu sync.Mutex

	// Input is returned by NewInputContext.
	Input *InputContext

	// Output is returned by NewOutputContext.
	Output *OutputContext

	// InputErr, if non-nil, is returned by NewInputContext.
	InputErr error

	// OutputErr, if non-nil, is returned by NewOutputContext.
	OutputErr error

	// InputRates and OutputRates record the requested sample rates.
	InputRates  []int
	OutputRates []int
}

// NewBackend returns a Backend with fresh contexts.
func NewBackend() *Backend {
	return &Backend{
		Input:  &InputContext{},
		Output: &OutputContext{},
	}
}

// NewInputContext implements [audio.Backend].
func (b *Backend) NewInputContext(sampleRate int) (audio.InputContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InputRates = append(b.InputRates, sampleRate)
	if b.InputErr != nil {
		return nil, b.InputErr
	}
	b.Input.open(sampleRate)
	return b.Input, nil
}

// NewOutputContext implements [audio.Backend].
func (b *Backend) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OutputRates = append(b.OutputRates, sampleRate)
	if b.OutputErr != nil {
		return nil, b.OutputErr
	}
	b.Output.open(sampleRate)
	return b.Output, nil
}

// ─── InputContext ─────────────────────────────────────────────────────────────

// InputContext is a mock implementation of [audio.InputContext].
type InputContext struct {
	mu sync.Mutex

	// OpenMicrophoneErr, if non-nil, is returned by OpenMicrophone, e.g. to
	// simulate a denied permission.
	OpenMicrophoneErr error

	// ProcessErr, if non-nil, is returned by Process.
	ProcessErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	rate   int
	closed bool
	mic    *Microphone
	proc   *Processor
}

func (c *InputContext) open(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.closed = false
	c.mic = nil
	c.proc = nil
}

// SampleRate implements [audio.Context].
func (c *InputContext) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Close implements [audio.Context].
func (c *InputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.closed = true
	return nil
}

// Closed implements [audio.Context].
func (c *InputContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OpenMicrophone implements [audio.InputContext].
func (c *InputContext) OpenMicrophone(ctx context.Context) (audio.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenMicrophoneErr != nil {
		return nil, c.OpenMicrophoneErr
	}
	if c.closed {
		return nil, ErrContextClosed
	}
	c.mic = &Microphone{}
	return c.mic, nil
}

// Process implements [audio.InputContext].
func (c *InputContext) Process(mic audio.Microphone, frameSize int, fn func(audio.Frame)) (audio.Processor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ProcessErr != nil {
		return nil, c.ProcessErr
	}
	if c.closed {
		return nil, ErrContextClosed
	}
	c.proc = &Processor{FrameSize: frameSize, rate: c.rate, fn: fn}
	return c.proc, nil
}

// Microphone returns the last opened microphone, or nil.
func (c *InputContext) Microphone() *Microphone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic
}

// Processor returns the last attached processor, or nil.
func (c *InputContext) Processor() *Processor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Stop implements [audio.Microphone].
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
}

// Stopped reports whether Stop was called at least once.
func (m *Microphone) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountStop > 0
}

// Processor is a mock [audio.Processor].
type Processor struct {
	mu sync.Mutex

	// FrameSize is the frame size requested by the caller.
	FrameSize int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	rate int
	fn   func(audio.Frame)
}

// Push delivers samples to the processor callback as one frame, as the
// hardware would. It reports false, without calling back, once the processor
// is disconnected.
func (p *Processor) Push(samples []float32) bool {
	p.mu.Lock()
	fn := p.fn
	rate := p.rate
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(audio.Frame{Samples: samples, SampleRate: rate})
	return true
}

// Disconnect implements [audio.Processor].
func (p *Processor) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountDisconnect++
	p.fn = nil
}

// Disconnected reports whether Disconnect was called.
func (p *Processor) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountDisconnect > 0
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// OutputContext is a mock implementation of [audio.OutputContext] with a
// manually driven clock.
type OutputContext struct {
	mu sync.Mutex

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	rate      int
	now       float64
	closed    bool
	scheduled []*Source
}

func (c *OutputContext) open(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	c.now = 0
	c.closed = false
	c.scheduled = nil
}

// SampleRate implements [audio.Context].
func (c *OutputContext) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Close implements [audio.Context].
func (c *OutputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.closed = true
	return nil
}

// Closed implements [audio.Context].
func (c *OutputContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetTime moves the clock to t seconds.
func (c *OutputContext) SetTime(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// CurrentTime implements [audio.OutputContext].
func (c *OutputContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule implements [audio.OutputContext]. It records the requested start
// time verbatim.
func (c *OutputContext) Schedule(buf audio.Buffer, at float64, onEnded func()) (audio.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ScheduleErr != nil {
		return nil, c.ScheduleErr
	}
	if c.closed {
		return nil, ErrContextClosed
	}
	src := &Source{Buffer: buf, At: at, onEnded: onEnded}
	c.scheduled = append(c.scheduled, src)
	return src, nil
}

// Scheduled returns every source scheduled since the context was opened, in
// call order.
func (c *OutputContext) Scheduled() []*Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Source(nil), c.scheduled...)
}

// Source is a mock [audio.Source].
type Source struct {
	mu sync.Mutex

	// Buffer is the scheduled audio.
	Buffer audio.Buffer

	// At is the requested start time in seconds.
	At float64

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	onEnded func()
	done    bool
}

// Stop implements [audio.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.done = true
}

// Stopped reports whether Stop was called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop > 0
}

// End simulates natural completion: it invokes the onEnded callback once,
// unless the source was stopped or already ended.
func (s *Source) End() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	fn := s.onEnded
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}
