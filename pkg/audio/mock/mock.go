// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.InputStream], [audio.Speaker] and [audio.Playback] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.InputStream{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
//	mic := &mock.Microphone{OpenResult: stream}
//	// ... start the capture pipeline ...
//	stream.Emit(block) // deliver a block as the device would
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by [Microphone.Open] when OpenError is nil.
	OpenResult *InputStream

	// OpenError is returned by [Microphone.Open].
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// LastConstraints holds the constraints passed to the most recent Open.
	LastConstraints audio.Constraints
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, c audio.Constraints) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	m.LastConstraints = c
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.OpenResult == nil {
		m.OpenResult = &InputStream{}
	}
	return m.OpenResult, nil
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Blocks are
// delivered by calling [InputStream.Emit] from the test.
type InputStream struct {
	mu sync.Mutex

	// FormatResult is returned by Format. Defaults to 48 kHz mono if zero.
	FormatResult audio.Format

	// Realtime is reported as [audio.Capabilities.RealtimeCallback].
	Realtime bool

	// StartError is returned by Start when realtime is false, or when
	// RealtimeStartError is nil.
	StartError error

	// RealtimeStartError is returned by Start when realtime is true.
	RealtimeStartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// StartedRealtime records the realtime flag of the last successful Start.
	StartedRealtime bool

	onBlock func([]float32)
	errs    chan error
	closed  bool
}

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: 48000, Channels: 1}
	}
	return s.FormatResult
}

// Capabilities implements [audio.InputStream].
func (s *InputStream) Capabilities() audio.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.Capabilities{RealtimeCallback: s.Realtime}
}

// Start implements [audio.InputStream].
func (s *InputStream) Start(onBlock func([]float32), realtime bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if realtime && s.RealtimeStartError != nil {
		return s.RealtimeStartError
	}
	if s.StartError != nil {
		return s.StartError
	}
	s.onBlock = onBlock
	s.StartedRealtime = realtime
	return nil
}

// Errors implements [audio.InputStream].
func (s *InputStream) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(chan error, 1)
	}
	return s.errs
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.onBlock = nil
	return nil
}

// Emit delivers block to the registered callback as the device would. It
// reports false if the stream is not started or already closed.
func (s *InputStream) Emit(block []float32) bool {
	s.mu.Lock()
	fn := s.onBlock
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(block)
	return true
}

// Fail reports a mid-stream device error on the Errors channel.
func (s *InputStream) Fail(err error) {
	s.Errors()
	s.mu.Lock()
	ch := s.errs
	s.mu.Unlock()
	select {
	case ch <- err:
	default:
	}
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker]. Playbacks never finish
// on their own; tests end them with [Speaker.Finish].
type Speaker struct {
	mu sync.Mutex

	// PlayError is returned by Play when set.
	PlayError error

	// Played records every buffer passed to Play, in order.
	Played []*audio.Buffer

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pending []*Playback
}

// Open is an [audio.OutputOpener] that returns s.
func (s *Speaker) Open(context.Context) (audio.Speaker, error) { return s, nil }

// Play implements [audio.Speaker].
func (s *Speaker) Play(buf *audio.Buffer, done func()) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return nil, s.PlayError
	}
	s.Played = append(s.Played, buf)
	p := &Playback{done: done}
	s.pending = append(s.pending, p)
	return p, nil
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// PlayedBuffers returns a copy of the buffers played so far.
func (s *Speaker) PlayedBuffers() []*audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audio.Buffer, len(s.Played))
	copy(out, s.Played)
	return out
}

// Finish completes the oldest unfinished playback, invoking its done callback
// on a new goroutine. It reports false if nothing is playing.
func (s *Speaker) Finish() bool {
	s.mu.Lock()
	var p *Playback
	for len(s.pending) > 0 && p == nil {
		p, s.pending = s.pending[0], s.pending[1:]
		if !p.end() {
			p = nil
		}
	}
	s.mu.Unlock()
	return p != nil
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.Playback].
type Playback struct {
	mu    sync.Mutex
	done  func()
	ended bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Stop implements [audio.Playback].
func (p *Playback) Stop() error {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	if !p.end() {
		return audio.ErrAlreadyStopped
	}
	return nil
}

// end marks the playback ended and fires done once. Reports whether this call
// ended it.
func (p *Playback) end() bool {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return false
	}
	p.ended = true
	done := p.done
	p.mu.Unlock()
	if done != nil {
		go done()
	}
	return true
}
