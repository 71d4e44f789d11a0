//go:build portaudio

package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/Niranjan-reddy99/hobbystreak/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*PortAudio)(nil)

// PortAudio is an [audio.Backend] on the default system input and output
// devices. Call [PortAudio.Close] once all contexts are closed.
type PortAudio struct {
	opts options
}

// NewPortAudio initialises PortAudio.
func NewPortAudio(opts ...Option) (*PortAudio, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initializing portaudio: %w", err)
	}
	return &PortAudio{opts: o}, nil
}

// NewInputContext implements [audio.Backend].
func (p *PortAudio) NewInputContext(sampleRate int) (audio.InputContext, error) {
	return newInput(sampleRate, func(_ context.Context, rate int) (stream, error) {
		if _, err := portaudio.DefaultInputDevice(); err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return &paStream{rate: rate, block: p.opts.blockSize, capture: true}, nil
	}), nil
}

// NewOutputContext implements [audio.Backend].
func (p *PortAudio) NewOutputContext(sampleRate int) (audio.OutputContext, error) {
	if _, err := portaudio.DefaultOutputDevice(); err != nil {
		return nil, fmt.Errorf("device: no default output device: %w", err)
	}
	return newOutput(sampleRate, &paStream{rate: sampleRate, block: p.opts.blockSize})
}

// Close terminates PortAudio.
func (p *PortAudio) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("device: terminating portaudio: %w", err)
	}
	return nil
}

// paStream is a mono default-device [stream].
type paStream struct {
	rate    int
	block   int
	capture bool

	mu sync.Mutex
	s  *portaudio.Stream
}

func (ps *paStream) start(fn func([]float32)) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.s != nil {
		return nil
	}

	var (
		s   *portaudio.Stream
		err error
	)
	if ps.capture {
		s, err = portaudio.OpenDefaultStream(1, 0, float64(ps.rate), ps.block, func(in []float32) { fn(in) })
	} else {
		s, err = portaudio.OpenDefaultStream(0, 1, float64(ps.rate), ps.block, func(out []float32) { fn(out) })
	}
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	if err := s.Start(); err != nil {
		_ = s.Close()
		return fmt.Errorf("starting stream: %w", err)
	}
	ps.s = s
	return nil
}

func (ps *paStream) stop() error {
	ps.mu.Lock()
	s := ps.s
	ps.s = nil
	ps.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Stop(); err != nil {
		_ = s.Close()
		return fmt.Errorf("stopping stream: %w", err)
	}
	return s.Close()
}
