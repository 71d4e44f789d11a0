package mixer

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// defaultQueueCap is the initial capacity hint for the start queue.
const defaultQueueCap = 16

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithQueueCapacity sets the initial capacity hint for the start queue. This
// does not impose a hard limit; the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(startHeap, 0, n)
		}
	}
}

// Timeline is a sample-accurate playback clock. The clock advances only when
// [Timeline.Render] is called, so a device callback that renders at the
// hardware rate turns it into a real-time clock.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64     // frames rendered so far
	pending startHeap // scheduled, not yet audible
	playing []*Source // audible during the current or next block
	seq     uint64
	closed  bool
}

// New creates a [Timeline] for mono output at sampleRate Hz.
func New(sampleRate int, opts ...Option) *Timeline {
	t := &Timeline{
		rate:    sampleRate,
		pending: make(startHeap, 0, defaultQueueCap),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// SampleRate returns the timeline rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the clock in seconds: the number of rendered frames divided by
// the sample rate.
func (t *Timeline) Now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.pos) / float64(t.rate)
}

// Schedule queues buf to start at clock time at (seconds). Start times that
// already passed are moved to the current clock position. Multi-channel
// buffers are averaged down to mono.
//
// onEnded, if non-nil, is invoked once, outside the timeline lock, from the
// goroutine that renders the block containing the source's last frame.
func (t *Timeline) Schedule(buf audio.Buffer, at float64, onEnded func()) (*Source, error) {
	if buf.SampleRate != t.rate {
		return nil, fmt.Errorf("mixer: schedule: buffer rate %d does not match timeline rate %d", buf.SampleRate, t.rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	start := int64(math.Round(at * float64(t.rate)))
	if start < t.pos {
		start = t.pos
	}

	src := &Source{
		t:       t,
		samples: mixdown(buf),
		start:   start,
		onEnded: onEnded,
	}
	t.seq++
	heap.Push(&t.pending, entry{src: src, start: start, seq: t.seq})
	return src, nil
}

// Render fills out with the sum of every source audible in the next len(out)
// frames and advances the clock by len(out) frames. After Close, out is
// zeroed and the clock stops.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	blockStart := t.pos
	blockEnd := t.pos + int64(len(out))

	for t.pending.Len() > 0 && t.pending[0].start < blockEnd {
		e := heap.Pop(&t.pending).(entry)
		if e.src.stopped {
			continue
		}
		t.playing = append(t.playing, e.src)
	}

	var ended []func()
	kept := t.playing[:0]
	for _, s := range t.playing {
		if s.stopped {
			continue
		}
		end := s.start + int64(len(s.samples))
		from := max(s.start, blockStart)
		to := min(end, blockEnd)
		for f := from; f < to; f++ {
			out[f-blockStart] += s.samples[f-s.start]
		}
		if end <= blockEnd {
			s.finished = true
			if s.onEnded != nil {
				ended = append(ended, s.onEnded)
			}
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(t.playing); i++ {
		t.playing[i] = nil
	}
	t.playing = kept
	t.pos = blockEnd
	t.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Pending returns the number of sources that are scheduled or playing and
// have neither finished nor been stopped.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.pending {
		if !e.src.stopped {
			n++
		}
	}
	for _, s := range t.playing {
		if !s.stopped {
			n++
		}
	}
	return n
}

// Close silences every source and stops the clock. No onEnded callback fires
// after Close returns. Close is idempotent.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for _, e := range t.pending {
		e.src.stopped = true
	}
	for _, s := range t.playing {
		s.stopped = true
	}
	t.pending = t.pending[:0]
	t.playing = nil
}

// Source is one buffer scheduled on a [Timeline].
type Source struct {
	t       *Timeline
	samples []float32
	start   int64
	onEnded func()

	// guarded by t.mu
	stopped  bool
	finished bool
}

// Start returns the scheduled start time in seconds.
func (s *Source) Start() float64 {
	return float64(s.start) / float64(s.t.rate)
}

// Stop silences the source. A stopped source is dropped on the next render
// and never reports completion.
func (s *Source) Stop() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.stopped = true
}

// Finished reports whether the source completed naturally.
func (s *Source) Finished() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.finished
}

// mixdown returns mono samples for buf, averaging channels when needed.
func mixdown(buf audio.Buffer) []float32 {
	switch buf.NumChannels() {
	case 0:
		return nil
	case 1:
		return buf.Channels[0]
	}
	n := buf.Frames()
	out := make([]float32, n)
	scale := 1 / float32(buf.NumChannels())
	for _, ch := range buf.Channels {
		for i := range n {
			out[i] += ch[i] * scale
		}
	}
	return out
}
