// Package playback turns inbound model audio into continuous output.
//
// Frames arriving from the session are collected in a [JitterBuffer]. A
// debounce timer, whose delay shrinks as the buffer deepens, flushes the
// buffer into one contiguous [audio.Buffer] that starts playing immediately.
// While a buffer is playing, new frames only accumulate; when it completes
// the accumulated frames are flushed at once, so consecutive chunks play
// back-to-back without waiting for the timer.
//
// Every playback carries a generation number. [Pipeline.StopPlayback] bumps
// the generation so that completion callbacks from stopped playbacks are
// ignored.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/audio"
)

// DefaultMinSamples is 20 ms at 24 kHz. Shorter flushes are discarded as
// inaudible.
const DefaultMinSamples = 480

// Config configures a [Pipeline]. Zero values select defaults.
type Config struct {
	// SourceRate is the rate of the output buffers. Defaults to 24 kHz.
	// Frames at other rates are resampled on arrival.
	SourceRate int

	// MinSamples is the minimum flush size. Defaults to 480.
	MinSamples int

	// Thresholds select the flush delay. Defaults to [DefaultThresholds].
	Thresholds Thresholds

	// LevelScale is passed to [audio.Level]. Defaults to 5.
	LevelScale float64
}

func (c Config) withDefaults() Config {
	if c.SourceRate <= 0 {
		c.SourceRate = audio.PlaybackRate
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if len(c.Thresholds.Steps) == 0 && c.Thresholds.Fallback == 0 {
		c.Thresholds = DefaultThresholds()
	}
	if c.LevelScale <= 0 {
		c.LevelScale = audio.DefaultLevelScale
	}
	return c
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is the playback pipeline.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	open    audio.OutputOpener
	metrics *observe.Metrics

	mu         sync.Mutex
	cfg        Config
	buf        JitterBuffer
	timer      *time.Timer
	timerSeq   uint64 // identifies the live flush timer
	speaker    audio.Speaker
	current    audio.Playback
	playing    bool
	generation uint64
	level      float64
}

// New creates an idle Pipeline. The speaker is opened through open on the
// first flush and reopened after [Pipeline.StopPlayback].
func New(open audio.OutputOpener, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		open: open,
		cfg:  cfg.withDefaults(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetThresholds replaces the flush thresholds. It applies from the next
// scheduled flush.
func (p *Pipeline) SetThresholds(t Thresholds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Thresholds = t
}

// BufferInboundFrame queues frame for playback. When nothing is playing the
// flush timer is restarted with a delay chosen from the new buffer depth.
func (p *Pipeline) BufferInboundFrame(frame audio.AudioFrame) {
	if frame.Empty() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if frame.SampleRate > 0 && frame.SampleRate != p.cfg.SourceRate {
		frame.Samples = audio.ResampleMono16(frame.Samples, frame.SampleRate, p.cfg.SourceRate)
		frame.SampleRate = p.cfg.SourceRate
	}
	p.buf.Push(frame)
	if p.playing {
		return
	}
	p.scheduleFlushLocked(p.cfg.Thresholds.FlushDelay(p.buf.Len()))
}

// Playing reports whether a buffer is currently playing.
func (p *Pipeline) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Level returns the output level of the buffer currently playing, or 0.
func (p *Pipeline) Level() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Buffered returns the number of frames waiting to be flushed.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// StopPlayback stops the current playback, drops everything buffered,
// cancels the flush timer and releases the speaker. It is idempotent.
func (p *Pipeline) StopPlayback() {
	p.mu.Lock()
	p.generation++
	p.stopTimerLocked()
	current := p.current
	speaker := p.speaker
	p.current = nil
	p.speaker = nil
	p.buf.Reset()
	p.playing = false
	p.level = 0
	p.mu.Unlock()

	if current != nil {
		if err := current.Stop(); err != nil && !errors.Is(err, audio.ErrAlreadyStopped) {
			slog.Warn("playback: stop failed", "err", err)
		}
	}
	if speaker != nil {
		if err := speaker.Close(); err != nil {
			slog.Warn("playback: closing speaker failed", "err", err)
		}
	}
}

// Close is an alias for [Pipeline.StopPlayback].
func (p *Pipeline) Close() error {
	p.StopPlayback()
	return nil
}

func (p *Pipeline) scheduleFlushLocked(delay time.Duration) {
	p.stopTimerLocked()
	p.timerSeq++
	seq := p.timerSeq
	p.timer = time.AfterFunc(delay, func() { p.onTimer(seq) })
}

func (p *Pipeline) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerSeq++
}

func (p *Pipeline) onTimer(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.timerSeq || p.playing {
		return
	}
	p.timer = nil
	p.flushLocked()
}

// onPlaybackComplete chains the next flush, or goes idle if nothing
// accumulated while generation was playing.
func (p *Pipeline) onPlaybackComplete(generation uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if generation != p.generation || !p.playing {
		return
	}
	p.playing = false
	p.current = nil
	if p.buf.Len() > 0 {
		p.stopTimerLocked()
		p.flushLocked()
		return
	}
	p.level = 0
}

// flushLocked drains the jitter buffer and starts playing it. p.mu must be
// held.
func (p *Pipeline) flushLocked() {
	ctx := context.Background()
	oldest := p.buf.Oldest()
	samples := p.buf.Drain()

	if len(samples) < p.cfg.MinSamples {
		if len(samples) > 0 {
			slog.Debug("playback: discarding short flush", "samples", len(samples), "min_samples", p.cfg.MinSamples)
		}
		p.metrics.RecordFlush(ctx, "discarded")
		p.level = 0
		return
	}

	if p.speaker == nil {
		sp, err := p.open(ctx)
		if err != nil {
			slog.Error("playback: opening output failed", "err", err)
			p.resetLocked()
			p.metrics.RecordFlush(ctx, "failed")
			return
		}
		p.speaker = sp
	}

	block := audio.SamplesToFloat32(samples)
	buf := &audio.Buffer{Samples: block, SampleRate: p.cfg.SourceRate}

	p.generation++
	gen := p.generation
	pb, err := p.speaker.Play(buf, func() { p.onPlaybackComplete(gen) })
	if err != nil {
		slog.Error("playback: starting playback failed", "samples", len(samples), "err", err)
		p.resetLocked()
		p.metrics.RecordFlush(ctx, "failed")
		return
	}

	p.current = pb
	p.playing = true
	p.level = audio.Level(block, p.cfg.LevelScale)
	p.metrics.RecordFlush(ctx, "played")
	if !oldest.IsZero() {
		p.metrics.PlaybackLatency.Record(ctx, time.Since(oldest).Seconds())
	}
	slog.Debug("playback: flushed", "samples", len(samples), "duration", buf.Duration())
}

// resetLocked returns to idle after a failure. Later frames are still
// accepted.
func (p *Pipeline) resetLocked() {
	p.buf.Reset()
	p.current = nil
	p.playing = false
	p.level = 0
}
