// Package device provides concrete [audio.Backend] implementations.
//
// [Null] is a headless backend driven by wall-clock tickers: its microphone
// produces silence and its output renders into a discarded buffer at the
// hardware rate. It keeps a server process (or CI) able to run a full voice
// session without sound hardware.
//
// [PortAudio] drives the default system devices through PortAudio. It is only
// available when built with the "portaudio" build tag; otherwise
// [NewPortAudio] returns [ErrPortAudioUnavailable].
//
// Both backends share the same plumbing: output contexts play through a
// [mixer.Timeline] whose clock advances as the device renders, and input
// contexts slice device blocks into fixed-size frames.
package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio/mixer"
)

var (
	// ErrClosed is returned by operations on a closed context or stopped
	// microphone.
	ErrClosed = errors.New("device: closed")

	// ErrPortAudioUnavailable is returned by [NewPortAudio] in builds without
	// the "portaudio" tag.
	ErrPortAudioUnavailable = errors.New("device: built without portaudio support (rebuild with -tags portaudio)")
)

// defaultBlockSize is the number of frames exchanged with the device per
// callback.
const defaultBlockSize = 1024

// Option configures a backend.
type Option func(*options)

type options struct {
	blockSize int
}

func defaultOptions() options {
	return options{blockSize: defaultBlockSize}
}

// WithBlockSize sets the number of frames per device callback.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// stream is a running device. start begins invoking fn with one block of
// samples per device period: capture streams fill the block before the call,
// playback streams expect fn to fill it. stop halts the device and waits for
// any in-flight callback.
type stream interface {
	start(fn func([]float32)) error
	stop() error
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.OutputContext = (*output)(nil)

// output plays buffers through a timeline rendered by a playback stream.
type output struct {
	tl     *mixer.Timeline
	st     stream
	closed atomic.Bool
	once   sync.Once
	err    error
}

// newOutput starts st rendering a fresh timeline at rate.
func newOutput(rate int, st stream) (*output, error) {
	o := &output{tl: mixer.New(rate), st: st}
	if err := st.start(o.tl.Render); err != nil {
		return nil, fmt.Errorf("device: start output: %w", err)
	}
	return o, nil
}

func (o *output) SampleRate() int { return o.tl.SampleRate() }

func (o *output) CurrentTime() float64 { return o.tl.Now() }

func (o *output) Schedule(buf audio.Buffer, at float64, onEnded func()) (audio.Source, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	src, err := o.tl.Schedule(buf, at, onEnded)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (o *output) Close() error {
	o.once.Do(func() {
		o.closed.Store(true)
		o.tl.Close()
		if err := o.st.stop(); err != nil {
			o.err = fmt.Errorf("device: stop output: %w", err)
		}
	})
	return o.err
}

func (o *output) Closed() bool { return o.closed.Load() }

// ─── Input ───────────────────────────────────────────────────────────────────

// Compile-time interface assertion.
var _ audio.InputContext = (*input)(nil)

// input hands out microphones backed by capture streams from open.
type input struct {
	rate int
	open func(ctx context.Context, rate int) (stream, error)

	mu     sync.Mutex
	closed bool
	mics   []*microphone
}

func newInput(rate int, open func(context.Context, int) (stream, error)) *input {
	return &input{rate: rate, open: open}
}

func (c *input) SampleRate() int { return c.rate }

func (c *input) OpenMicrophone(ctx context.Context) (audio.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	st, err := c.open(ctx, c.rate)
	if err != nil {
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	m := &microphone{st: st}
	c.mics = append(c.mics, m)
	return m, nil
}

func (c *input) Process(mic audio.Microphone, frameSize int, fn func(audio.Frame)) (audio.Processor, error) {
	m, ok := mic.(*microphone)
	if !ok {
		return nil, fmt.Errorf("device: process: microphone %T was not opened by this backend", mic)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("device: process: invalid frame size %d", frameSize)
	}
	if c.Closed() {
		return nil, ErrClosed
	}

	p := &processor{mic: m, fn: fn, rate: c.rate, size: frameSize}
	if err := m.attach(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *input) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	mics := c.mics
	c.mics = nil
	c.mu.Unlock()

	for _, m := range mics {
		m.Stop()
	}
	return nil
}

func (c *input) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// microphone fans one capture stream out to its processors. The stream is
// started lazily by the first processor.
type microphone struct {
	st stream

	mu      sync.Mutex
	procs   []*processor
	started bool
	stopped bool
}

func (m *microphone) attach(p *processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrClosed
	}
	m.procs = append(m.procs, p)
	if m.started {
		return nil
	}
	if err := m.st.start(m.dispatch); err != nil {
		m.procs = nil
		return fmt.Errorf("device: start capture: %w", err)
	}
	m.started = true
	return nil
}

func (m *microphone) detach(p *processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs = slices.DeleteFunc(m.procs, func(q *processor) bool { return q == p })
}

func (m *microphone) dispatch(samples []float32) {
	m.mu.Lock()
	procs := slices.Clone(m.procs)
	m.mu.Unlock()

	for _, p := range procs {
		p.feed(samples)
	}
}

// Stop implements [audio.Microphone].
func (m *microphone) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.procs = nil
	m.mu.Unlock()

	if started {
		_ = m.st.stop()
	}
}

// processor slices device blocks into frames of size samples. fn runs with
// p.mu held, so fn must not call Disconnect.
type processor struct {
	mic  *microphone
	rate int
	size int

	mu      sync.Mutex
	fn      func(audio.Frame)
	pending []float32
}

func (p *processor) feed(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn == nil {
		return
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.size {
		frame := make([]float32, p.size)
		copy(frame, p.pending)
		n := copy(p.pending, p.pending[p.size:])
		p.pending = p.pending[:n]
		p.fn(audio.Frame{Samples: frame, SampleRate: p.rate})
	}
}

// Disconnect implements [audio.Processor].
func (p *processor) Disconnect() {
	p.mu.Lock()
	p.fn = nil
	p.pending = nil
	p.mu.Unlock()
	p.mic.detach(p)
}
