package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Microphone opens capture devices at a fixed native rate.
type Microphone struct {
	c    *Context
	rate int
}

var _ audio.Microphone = (*Microphone)(nil)

// Microphone returns a microphone that captures at rate Hz. A rate of zero
// selects 48 kHz.
func (c *Context) Microphone(rate int) *Microphone {
	if rate <= 0 {
		rate = 48000
	}
	return &Microphone{c: c, rate: rate}
}

// Open implements [audio.Microphone]. miniaudio has no echo cancellation or
// noise suppression of its own; those constraints are accepted and ignored.
func (m *Microphone) Open(ctx context.Context, cons audio.Constraints) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, audio.ClassifyDeviceError(err)
	}
	channels := cons.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := m.rate
	if cons.SampleRate > 0 {
		rate = cons.SampleRate
	}
	if cons.EchoCancellation || cons.NoiseSuppression {
		slog.Debug("miniaudio: echo cancellation and noise suppression are not available on this backend")
	}

	s := &inputStream{
		format: audio.Format{SampleRate: rate, Channels: channels},
		errs:   make(chan error, 1),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(m.c.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, audio.ClassifyDeviceError(fmt.Errorf("miniaudio: open capture device: %w", err))
	}
	s.dev = dev
	return s, nil
}

// inputStream is an opened malgo capture device.
type inputStream struct {
	format audio.Format
	dev    *malgo.Device
	errs   chan error

	mu      sync.Mutex
	onBlock func([]float32)
	scratch []float32
	closing bool
	closed  bool
}

func (s *inputStream) Format() audio.Format { return s.format }

// Capabilities implements [audio.InputStream]. malgo always delivers data on
// its own device thread.
func (s *inputStream) Capabilities() audio.Capabilities {
	return audio.Capabilities{RealtimeCallback: true}
}

func (s *inputStream) Start(onBlock func([]float32), _ bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("miniaudio: capture stream closed")
	}
	s.onBlock = onBlock
	s.mu.Unlock()

	if err := s.dev.Start(); err != nil {
		return audio.ClassifyDeviceError(fmt.Errorf("miniaudio: start capture: %w", err))
	}
	return nil
}

func (s *inputStream) Errors() <-chan error { return s.errs }

func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	_ = s.dev.Stop()
	s.dev.Uninit()

	s.mu.Lock()
	s.closed = true
	s.onBlock = nil
	s.mu.Unlock()
	return nil
}

// onData runs on the malgo device thread. The mutex is only contended during
// Start and Close.
func (s *inputStream) onData(_, in []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onBlock == nil {
		return
	}
	s.scratch = float32Block(s.scratch, in)
	s.onBlock(s.scratch)
}

// onStop fires when the device stops, including when it disappears.
func (s *inputStream) onStop() {
	s.mu.Lock()
	expected := s.closing
	s.mu.Unlock()
	if expected {
		return
	}
	err := audio.NewDeviceError(audio.DeviceNotReadable, errors.New("miniaudio: capture device stopped unexpectedly"))
	select {
	case s.errs <- err:
	default:
	}
}
