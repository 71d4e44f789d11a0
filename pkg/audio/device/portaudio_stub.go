//go:build !portaudio

package device

import "github.com/Niranjan-reddy99/hobbystreak/pkg/audio"

// Compile-time interface assertion.
var _ audio.Backend = (*PortAudio)(nil)

// PortAudio stub when portaudio is not available.
type PortAudio struct{}

// NewPortAudio always fails with [ErrPortAudioUnavailable].
func NewPortAudio(...Option) (*PortAudio, error) {
	return nil, ErrPortAudioUnavailable
}

func (*PortAudio) NewInputContext(int) (audio.InputContext, error) {
	return nil, ErrPortAudioUnavailable
}

func (*PortAudio) NewOutputContext(int) (audio.OutputContext, error) {
	return nil, ErrPortAudioUnavailable
}

func (*PortAudio) Close() error { return nil }
