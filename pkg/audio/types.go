package audio

import "time"

// Default sample rates for the two directions of a live voice session.
const (
	// CaptureRate is the rate outbound microphone audio is resampled to.
	CaptureRate = 16000

	// PlaybackRate is the rate the remote model synthesises audio at.
	PlaybackRate = 24000
)

// AudioFrame is one unit of mono 16-bit PCM audio flowing through a session.
// Frames are created by the capture pipeline (outbound) or decoded from a
// transport payload (inbound), consumed once and then discarded.
type AudioFrame struct {
	// Samples holds signed 16-bit mono samples in playback order.
	Samples []int16

	// SampleRate in Hz (16000 outbound, 24000 inbound by default).
	SampleRate int

	// Timestamp is when the frame was captured or received.
	Timestamp time.Time
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Empty reports whether the frame carries no samples.
func (f AudioFrame) Empty() bool { return len(f.Samples) == 0 }

// Buffer is a contiguous, playable block of normalised float samples at a
// fixed rate. It is what the playback pipeline hands to a [Speaker].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
