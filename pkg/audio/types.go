package audio

import "time"

// Fixed stream parameters of the live voice pipeline. The remote endpoint
// expects 16 kHz mono PCM on the way in and answers with 24 kHz mono PCM.
const (
	// InputSampleRate is the capture rate in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the playback rate in Hz.
	OutputSampleRate = 24000

	// FrameSize is the number of samples per captured frame.
	FrameSize = 4096

	// InputMIMEType tags every blob produced by the capture pipeline.
	InputMIMEType = "audio/pcm;rate=16000"
)

// Frame is one block of mono float samples delivered by a capture device.
// Samples are nominally in [-1, 1] but out-of-range values are passed through
// untouched; see [FloatToPCM16].
type Frame struct {
	// Samples holds the raw float samples in capture order.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Blob is a transport-ready audio payload: base64-encoded little-endian
// 16-bit PCM plus the MIME type describing it.
type Blob struct {
	Data     string
	MIMEType string
}

// Buffer is decoded, channel-separated float audio ready for scheduling.
type Buffer struct {
	// Channels holds one slice per channel; all slices have equal length.
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// NumChannels returns the number of channels in b.
func (b Buffer) NumChannels() int { return len(b.Channels) }

// Frames returns the number of sample frames per channel.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of b in seconds, the unit of the
// output clock.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}
