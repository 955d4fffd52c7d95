package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livevoice/pkg/audio"
)

// Speaker is a mono float32 playback device. It plays one [audio.Buffer] at a
// time; a new Play supersedes the current one.
type Speaker struct {
	dev  *malgo.Device
	rate int

	mu      sync.Mutex
	current *playback
	closed  bool
}

var _ audio.Speaker = (*Speaker)(nil)

// OpenSpeaker opens and starts the default playback device at
// [audio.PlaybackRate]. It satisfies [audio.OutputOpener].
func (c *Context) OpenSpeaker(ctx context.Context) (audio.Speaker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Speaker{rate: audio.PlaybackRate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.rate)
	cfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(c.mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}
	s.dev = dev
	return s, nil
}

// Play implements [audio.Speaker]. Buffers at a different rate are resampled
// to the device rate.
func (s *Speaker) Play(buf *audio.Buffer, done func()) (audio.Playback, error) {
	samples := buf.Samples
	if buf.SampleRate != s.rate {
		samples = audio.ResampleFloat32(samples, buf.SampleRate, s.rate)
	}
	p := &playback{s: s, samples: samples, done: done}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("miniaudio: speaker closed")
	}
	prev := s.current
	s.current = p
	s.mu.Unlock()

	if prev != nil {
		prev.finish()
	}
	return p, nil
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur != nil {
		cur.finish()
	}
	_ = s.dev.Stop()
	s.dev.Uninit()
	return nil
}

// onData runs on the malgo device thread and fills out with the current
// buffer, padding with silence.
func (s *Speaker) onData(out, _ []byte, frames uint32) {
	s.mu.Lock()
	p := s.current
	var ended bool
	n := 0
	if p != nil {
		n = min(int(frames), len(p.samples)-p.pos)
		for i := range n {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(p.samples[p.pos+i]))
		}
		p.pos += n
		if p.pos >= len(p.samples) {
			s.current = nil
			ended = true
		}
	}
	s.mu.Unlock()

	clear(out[n*4:])
	if ended {
		p.finish()
	}
}

// clearIfCurrent detaches p from the device if it is still playing.
func (s *Speaker) clearIfCurrent(p *playback) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
}

type playback struct {
	s       *Speaker
	samples []float32
	pos     int
	done    func()

	once sync.Once
}

// finish fires done exactly once, off the device thread. Reports whether this
// call ended the playback.
func (p *playback) finish() bool {
	ended := false
	p.once.Do(func() {
		ended = true
		if p.done != nil {
			go p.done()
		}
	})
	return ended
}

// Stop implements [audio.Playback].
func (p *playback) Stop() error {
	p.s.clearIfCurrent(p)
	if !p.finish() {
		return audio.ErrAlreadyStopped
	}
	return nil
}
