// Package audio defines the audio types, PCM codec and device abstractions
// used by the live voice coach.
//
// The device model mirrors a browser-style audio graph:
//
//   - [Backend] opens audio contexts on a concrete audio stack (PortAudio,
//     a headless null device, or a test double).
//   - [InputContext] grants microphone access and attaches a frame processor
//     that delivers fixed-size [Frame] values to a callback.
//   - [OutputContext] owns a monotonically advancing clock (seconds) and plays
//     [Buffer] values at absolute clock times through one-shot [Source]
//     handles.
//
// This package lives under pkg/ because alternative backends are expected to
// implement these interfaces outside of the application.
package audio

import "context"

// Backend opens audio contexts. Implementations must be safe for concurrent
// use.
type Backend interface {
	// NewInputContext creates a capture context running at sampleRate Hz.
	NewInputContext(sampleRate int) (InputContext, error)

	// NewOutputContext creates a playback context running at sampleRate Hz.
	NewOutputContext(sampleRate int) (OutputContext, error)
}

// Context is the lifecycle shared by input and output contexts.
type Context interface {
	// SampleRate returns the context's fixed sample rate in Hz.
	SampleRate() int

	// Close releases the context. Calling Close on a closed context returns
	// nil.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool
}

// Microphone is a granted capture stream from the default input device.
type Microphone interface {
	// Stop releases the device. Stop is idempotent.
	Stop()
}

// Processor delivers captured frames to a callback until disconnected.
type Processor interface {
	// Disconnect detaches the processor. No callback is started after
	// Disconnect returns. Disconnect is idempotent.
	Disconnect()
}

// InputContext captures audio from the default input device.
type InputContext interface {
	Context

	// OpenMicrophone requests access to the default audio input device. It
	// fails if permission is denied or no device is present.
	OpenMicrophone(ctx context.Context) (Microphone, error)

	// Process attaches a processor to mic that invokes fn with every
	// frameSize-sample frame, in hardware order. fn is called from a device
	// goroutine and must not block.
	Process(mic Microphone, frameSize int, fn func(Frame)) (Processor, error)
}

// Source is a single scheduled playback of one [Buffer].
type Source interface {
	// Stop silences the source immediately. A stopped source never reports
	// natural completion. Stop is idempotent.
	Stop()
}

// OutputContext plays buffers against its own clock.
type OutputContext interface {
	Context

	// CurrentTime returns the output clock in seconds. It never decreases.
	CurrentTime() float64

	// Schedule plays buf starting at clock time at. A start time in the past
	// plays immediately. onEnded, if non-nil, is invoked exactly once from a
	// device goroutine when playback completes naturally.
	Schedule(buf Buffer, at float64, onEnded func()) (Source, error)
}
