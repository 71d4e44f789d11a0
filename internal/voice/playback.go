package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// errPlaybackStopped is returned by enqueue after stopAll.
var errPlaybackStopped = errors.New("voice: playback stopped")

// scheduler plays decoded model audio back to back on an output clock.
//
// Each buffer starts at max(next, clock) and moves next to the end of that
// buffer, so consecutive buffers never overlap and never leave a gap unless
// the clock has already passed next. Scheduled sources stay in the active
// set until they end naturally or stopAll is called.
type scheduler struct {
	out audio.OutputContext

	mu      sync.Mutex
	next    float64
	seq     uint64
	sources map[uint64]audio.Source
	stopped bool

	// onChange, if set, is called with +1/-1 as sources enter and leave the
	// active set.
	onChange func(delta int64)
}

func newScheduler(out audio.OutputContext, onChange func(int64)) *scheduler {
	return &scheduler{
		out:      out,
		sources:  make(map[uint64]audio.Source),
		onChange: onChange,
	}
}

// enqueue schedules buf and returns its start time. next only advances when
// the output context accepted the buffer. It fails once stopAll was called.
func (p *scheduler) enqueue(buf audio.Buffer) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0, errPlaybackStopped
	}

	start := max(p.next, p.out.CurrentTime())
	p.seq++
	id := p.seq

	src, err := p.out.Schedule(buf, start, func() { p.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("voice: schedule playback: %w", err)
	}
	p.sources[id] = src
	p.next = start + buf.Duration()
	if p.onChange != nil {
		p.onChange(1)
	}
	return start, nil
}

// ended removes a naturally finished source from the active set.
func (p *scheduler) ended(id uint64) {
	p.mu.Lock()
	_, ok := p.sources[id]
	delete(p.sources, id)
	p.mu.Unlock()

	if ok && p.onChange != nil {
		p.onChange(-1)
	}
}

// stopAll stops every active source and clears the set. Later enqueue calls
// fail with errPlaybackStopped.
func (p *scheduler) stopAll() {
	p.mu.Lock()
	p.stopped = true
	srcs := p.sources
	p.sources = make(map[uint64]audio.Source)
	p.mu.Unlock()

	for _, s := range srcs {
		s.Stop()
	}
	if n := len(srcs); n > 0 && p.onChange != nil {
		p.onChange(-int64(n))
	}
}

// nextStart returns the end time of the last scheduled buffer.
func (p *scheduler) nextStart() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// active returns the number of sources still playing or waiting to play.
func (p *scheduler) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}
