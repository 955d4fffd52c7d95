// Package audio defines the device interfaces, frame types and sample math
// used by livevoice.
//
// The two primary device abstractions are:
//
//   - [Microphone] opens an [InputStream] that delivers float blocks at the
//     device's native rate.
//   - [Speaker] plays a [Buffer] and reports completion through a callback.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., audio/miniaudio). The interfaces are intentionally narrow so the
// capture and playback pipelines can be tested against in-memory mocks.
package audio

import (
	"context"
	"errors"
)

// ErrCallbackUnsupported is returned by [InputStream.Start] when a realtime
// block callback cannot be installed on the device. Callers fall back to a
// queued processing strategy.
var ErrCallbackUnsupported = errors.New("audio: realtime callback unsupported")

// ErrAlreadyStopped is returned by [Playback.Stop] when the playback has
// already ended. Callers treat it as success.
var ErrAlreadyStopped = errors.New("audio: playback already stopped")

// Constraints are the acquisition parameters requested from a microphone.
// Devices that cannot honour them fail with a [DeviceOverconstrained] error.
type Constraints struct {
	// Channels requested; livevoice always asks for mono.
	Channels int

	// SampleRate requested. Zero means the device's native rate.
	SampleRate int

	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints returns mono capture with echo cancellation and noise
// suppression enabled.
func DefaultConstraints() Constraints {
	return Constraints{Channels: 1, EchoCancellation: true, NoiseSuppression: true}
}

// Capabilities describe what an opened input stream supports.
type Capabilities struct {
	// RealtimeCallback reports whether blocks are delivered on a dedicated
	// realtime thread where processing can run inline.
	RealtimeCallback bool
}

// InputStream is an opened capture device.
//
// Implementations must be safe for concurrent use. Close must be idempotent.
type InputStream interface {
	// Format returns the native format of blocks passed to the Start callback.
	Format() Format

	// Capabilities reports the stream's processing capabilities.
	Capabilities() Capabilities

	// Start begins delivering captured blocks to onBlock. The block slice is
	// only valid for the duration of the call. When realtime is true the
	// implementation must invoke onBlock on its realtime thread and may return
	// [ErrCallbackUnsupported] if that is not possible.
	Start(onBlock func(block []float32), realtime bool) error

	// Errors delivers mid-stream device failures. It may return nil if the
	// device never reports asynchronous errors.
	Errors() <-chan error

	// Close stops the stream and releases the device.
	Close() error
}

// Microphone acquires input streams.
type Microphone interface {
	// Open acquires the capture device with the given constraints. Failures
	// should be, or wrap, a [*DeviceError].
	Open(ctx context.Context, c Constraints) (InputStream, error)
}

// Playback is a single in-flight buffer playback.
type Playback interface {
	// Stop halts playback. It returns [ErrAlreadyStopped] if playback has
	// already ended.
	Stop() error
}

// Speaker is an opened output device.
//
// Implementations must be safe for concurrent use. Close must be idempotent.
type Speaker interface {
	// Play starts playing buf immediately. done is invoked exactly once when
	// playback ends, whether it ran to completion or was stopped. done must
	// not be called synchronously from within Play.
	Play(buf *Buffer, done func()) (Playback, error)

	// Close releases the output device.
	Close() error
}

// OutputOpener lazily opens a [Speaker].
type OutputOpener func(ctx context.Context) (Speaker, error)
