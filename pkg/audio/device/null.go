package device

import (
	"context"
	"sync"
	"time"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Null)(nil)

// Null is a headless [audio.Backend]. Every microphone captures silence and
// every output context discards what it renders, but both run in real time
// so playback clocks and capture cadence behave like real hardware.
type Null struct {
	opts options
}

// NewNull returns a Null backend.
func NewNull(opts ...Option) *Null {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Null{opts: o}
}

// NewInputContext implements [audio.Backend].
func (n *Null) NewInputContext(sampleRate int) (audio.InputContext, error) {
	return newInput(sampleRate, func(_ context.Context, rate int) (stream, error) {
		return newTicker(rate, n.opts.blockSize), nil
	}), nil
}

// NewOutputContext implements [audio.Backend].
func (n *Null) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	return newOutput(sampleRate, newTicker(sampleRate, n.opts.blockSize))
}

// ticker is a [stream] that invokes its callback once per block period on a
// zeroed block.
type ticker struct {
	period time.Duration
	block  int

	mu   sync.Mutex
	quit chan struct{}
	done chan struct{}
}

func newTicker(rate, block int) *ticker {
	return &ticker{
		period: time.Duration(block) * time.Second / time.Duration(rate),
		block:  block,
	}
}

func (t *ticker) start(fn func([]float32)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quit != nil {
		return nil
	}
	t.quit = make(chan struct{})
	t.done = make(chan struct{})

	go func(quit, done chan struct{}) {
		defer close(done)
		tk := time.NewTicker(t.period)
		defer tk.Stop()
		buf := make([]float32, t.block)
		for {
			select {
			case <-quit:
				return
			case <-tk.C:
				clear(buf)
				fn(buf)
			}
		}
	}(t.quit, t.done)
	return nil
}

func (t *ticker) stop() error {
	t.mu.Lock()
	quit, done := t.quit, t.done
	t.quit = nil
	t.mu.Unlock()

	if quit == nil {
		return nil
	}
	close(quit)
	<-done
	return nil
}
